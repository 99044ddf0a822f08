package dynamokv

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/kvdoc/kv"
)

// skMarker starts every sort key so single-segment keys still get a non-empty
// sort key.
const skMarker = "/"

// SplitKey maps a key to its table item key: the encoded first segment is the
// partition key and the encoding of the remaining segments, behind "/", is the
// sort key.
func SplitKey(key kv.Key) (pk, sk string) {
	if len(key) == 0 {
		return "", skMarker
	}
	return kv.EncodeKey(key[:1]), skMarker + kv.EncodeKey(key[1:])
}

// JoinKey reverses SplitKey.
func JoinKey(pk, sk string) (kv.Key, error) {
	if !strings.HasPrefix(sk, skMarker) {
		return nil, kv.ErrMalformedKey
	}
	return kv.DecodeKey(pk + sk[len(skMarker):])
}

// itemKey builds the primary key attribute map for key.
func itemKey(key kv.Key) map[string]types.AttributeValue {
	pk, sk := SplitKey(key)
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: pk},
		"sk": &types.AttributeValueMemberS{Value: sk},
	}
}

// partitionSpan describes a span that falls inside a single partition, as sort
// key bounds. hi is exclusive and empty when the span runs to the end of the
// partition.
type partitionSpan struct {
	pk string
	lo string
	hi string
}

// toPartition reports whether span can be served by querying one partition.
func toPartition(span kv.Span) (partitionSpan, bool) {
	i := strings.IndexByte(span.Start, 0x00)
	if i < 0 {
		return partitionSpan{}, false
	}
	pk := span.Start[:i+1]
	ps := partitionSpan{pk: pk, lo: skMarker + span.Start[len(pk):]}

	switch {
	case strings.HasPrefix(span.End, pk):
		ps.hi = skMarker + span.End[len(pk):]
	case span.End == pk[:len(pk)-1]+"\x01":
		// End of a prefix span over the whole partition.
	default:
		return partitionSpan{}, false
	}
	return ps, true
}
