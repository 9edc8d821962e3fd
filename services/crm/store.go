package crm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/upb/activity-sync/services"
)

// FieldID is the primary key of every model
const FieldID = "id"

// SearchOptions narrows a search_read call
type SearchOptions struct {
	Order string
	Limit int
}

// SearchRead returns records of model matching domain
func SearchRead(ctx context.Context, rpc RPC, model string, domain Domain, fields []string, opts SearchOptions) ([]Record, error) {
	kwargs := map[string]any{"fields": fields}
	if opts.Order != "" {
		kwargs["order"] = opts.Order
	}
	if opts.Limit > 0 {
		kwargs["limit"] = opts.Limit
	}

	raw, err := rpc.Call(ctx, model, "search_read", []any{domain}, kwargs)
	if err != nil {
		return nil, err
	}
	return decodeRecords(model, raw)
}

// Read returns records of model by id
func Read(ctx context.Context, rpc RPC, model string, ids []int64, fields []string) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw, err := rpc.Call(ctx, model, "read", []any{ids}, map[string]any{"fields": fields})
	if err != nil {
		return nil, err
	}
	return decodeRecords(model, raw)
}

// Create inserts a record and returns its id
func Create(ctx context.Context, rpc RPC, model string, values map[string]any) (int64, error) {
	raw, err := rpc.Call(ctx, model, "create", []any{values}, nil)
	if err != nil {
		return 0, err
	}

	var id int64
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, nil
	}
	// Newer servers return a list of ids for batched creates
	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil || len(ids) == 0 {
		return 0, services.WrapCrmUnavailable(fmt.Sprintf("create %s", model), fmt.Errorf("unexpected result %s", raw))
	}
	return ids[0], nil
}

// Write updates records
func Write(ctx context.Context, rpc RPC, model string, ids []int64, values map[string]any) error {
	_, err := rpc.Call(ctx, model, "write", []any{ids, values}, nil)
	return err
}

// Unlink deletes records
func Unlink(ctx context.Context, rpc RPC, model string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := rpc.Call(ctx, model, "unlink", []any{ids}, nil)
	return err
}

// Execute runs a model action (e.g. action_confirm) on records
func Execute(ctx context.Context, rpc RPC, model, action string, ids []int64) error {
	_, err := rpc.Call(ctx, model, action, []any{ids}, nil)
	return err
}

func decodeRecords(model string, raw json.RawMessage) ([]Record, error) {
	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, services.WrapCrmUnavailable(fmt.Sprintf("decode %s records", model), err)
	}
	return records, nil
}
