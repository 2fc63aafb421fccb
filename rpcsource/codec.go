package rpcsource

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// encodeRequest builds the {"identities": [...]} envelope for ids, keyed by
// fmt.Sprint since structpb.Struct fields are always string-keyed. byKey
// lets decodeResponse map each response entry back to the original identity
// value (which need not itself be a string).
func encodeRequest(ids []any) (*structpb.Struct, map[string]any, error) {
	byKey := make(map[string]any, len(ids))
	reqIdentities := make([]any, len(ids))
	for i, id := range ids {
		k := fmt.Sprint(id)
		byKey[k] = id
		reqIdentities[i] = k
	}

	reqList, err := structpb.NewList(reqIdentities)
	if err != nil {
		return nil, nil, fmt.Errorf("rpcsource: encode request: %w", err)
	}
	req, err := structpb.NewStruct(map[string]any{})
	if err != nil {
		return nil, nil, fmt.Errorf("rpcsource: encode request: %w", err)
	}
	req.Fields["identities"] = structpb.NewListValue(reqList)
	return req, byKey, nil
}

// decodeResponse reads the {"values": {key: value, ...}} envelope, mapping
// each entry back to its original identity via byKey. Entries whose key
// isn't in byKey are discarded rather than surfaced, per the cache contract
// that results for identities not requested are not cached (see
// runner.BatchShapeError for the opposite case: an identity requested but
// missing from the response).
func decodeResponse(resp *structpb.Struct, byKey map[string]any) (map[any]any, error) {
	valuesField, ok := resp.Fields["values"]
	if !ok {
		return nil, fmt.Errorf("rpcsource: response missing \"values\" field")
	}
	valuesStruct := valuesField.GetStructValue()
	if valuesStruct == nil {
		return nil, fmt.Errorf("rpcsource: response \"values\" field is not a struct")
	}

	out := make(map[any]any, len(byKey))
	for k, v := range valuesStruct.Fields {
		id, known := byKey[k]
		if !known {
			continue
		}
		out[id] = v.AsInterface()
	}
	return out, nil
}
