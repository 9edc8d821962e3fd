// Package crmtest provides an in-memory CRM implementing crm.RPC for tests.
package crmtest

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/upb/activity-sync/services/crm"
)

// Call records one RPC invocation, with arguments decoded from their JSON form
type Call struct {
	Model  string
	Method string
	Args   []any
	Kwargs map[string]any
}

type failure struct {
	model  string
	method string
	err    error
	times  int
}

var many2one = map[string]bool{
	"partner_id":      true,
	"product_id":      true,
	"product_tmpl_id": true,
	"uom_id":          true,
	"product_uom":     true,
	"plan_id":         true,
	"country_id":      true,
	"order_id":        true,
}

// Fake is a concurrency-safe in-memory CRM
type Fake struct {
	mu       sync.Mutex
	nextID   int64
	records  map[string]map[int64]map[string]any
	calls    []Call
	failures []*failure

	// Now stamps create_date on created records
	Now func() time.Time
}

// New creates an empty fake CRM
func New() *Fake {
	return &Fake{
		nextID:  1,
		records: make(map[string]map[int64]map[string]any),
		Now:     time.Now,
	}
}

// Seed inserts a record directly and returns its id
func (f *Fake) Seed(model string, values map[string]any) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insert(model, normalizeMap(values))
}

// Get returns a copy of a stored record, or nil
func (f *Fake) Get(model string, id int64) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[model][id]
	if !ok {
		return nil
	}
	return copyMap(rec)
}

// All returns copies of every record of model, ordered by id
func (f *Fake) All(model string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := f.sortedIDs(model)
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyMap(f.records[model][id]))
	}
	return out
}

// Calls returns every call received so far
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the calls for one model method
func (f *Fake) CallsTo(model, method string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Model == model && c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// FailNext makes the next times calls to model.method return err.
// An empty model or method matches any.
func (f *Fake) FailNext(model, method string, err error, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, &failure{model: model, method: method, err: err, times: times})
}

// Call implements crm.RPC
func (f *Fake) Call(ctx context.Context, model, method string, args []any, kwargs map[string]any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var decodedArgs []any
	if err := roundTrip(args, &decodedArgs); err != nil {
		return nil, err
	}
	decodedKwargs := map[string]any{}
	if kwargs != nil {
		if err := roundTrip(kwargs, &decodedKwargs); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{Model: model, Method: method, Args: decodedArgs, Kwargs: decodedKwargs})

	for _, fl := range f.failures {
		if fl.times > 0 && (fl.model == "" || fl.model == model) && (fl.method == "" || fl.method == method) {
			fl.times--
			return nil, fl.err
		}
	}

	result, err := f.dispatch(model, method, decodedArgs, decodedKwargs)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

func (f *Fake) dispatch(model, method string, args []any, kwargs map[string]any) (any, error) {
	switch method {
	case "search_read":
		domain, _ := arg(args, 0).([]any)
		return f.searchRead(model, domain, stringList(kwargs["fields"]), kwargs)
	case "search":
		domain, _ := arg(args, 0).([]any)
		var ids []int64
		for _, id := range f.sortedIDs(model) {
			if matches(f.records[model][id], domain) {
				ids = append(ids, id)
			}
		}
		return ids, nil
	case "read":
		var out []map[string]any
		for _, id := range idList(arg(args, 0)) {
			if rec, ok := f.records[model][id]; ok {
				out = append(out, render(rec, stringList(kwargs["fields"])))
			}
		}
		if out == nil {
			out = []map[string]any{}
		}
		return out, nil
	case "create":
		values, ok := arg(args, 0).(map[string]any)
		if !ok {
			return nil, &crm.Fault{Code: 200, Name: "ValueError", Message: "create expects a values dict"}
		}
		return f.create(model, values), nil
	case "write":
		values, _ := arg(args, 1).(map[string]any)
		for _, id := range idList(arg(args, 0)) {
			rec, ok := f.records[model][id]
			if !ok {
				return nil, missingRecord(model, id)
			}
			for k, v := range values {
				rec[k] = v
			}
		}
		return true, nil
	case "unlink":
		for _, id := range idList(arg(args, 0)) {
			delete(f.records[model], id)
		}
		return true, nil
	case "action_confirm":
		for _, id := range idList(arg(args, 0)) {
			rec, ok := f.records[model][id]
			if !ok {
				return nil, missingRecord(model, id)
			}
			rec["state"] = "sale"
			if truthy(rec["is_subscription"]) {
				rec["subscription_state"] = "3_progress"
				if !truthy(rec["start_date"]) {
					rec["start_date"] = crm.FormatDate(f.Now())
				}
				if !truthy(rec["next_invoice_date"]) {
					rec["next_invoice_date"] = rec["start_date"]
					if truthy(rec["end_date"]) {
						rec["next_invoice_date"] = rec["end_date"]
					}
				}
			}
		}
		return true, nil
	}
	return nil, &crm.Fault{Code: 200, Name: "AttributeError", Message: fmt.Sprintf("type object '%s' has no attribute '%s'", model, method)}
}

func (f *Fake) searchRead(model string, domain []any, fields []string, kwargs map[string]any) ([]map[string]any, error) {
	var matched []map[string]any
	for _, id := range f.sortedIDs(model) {
		rec := f.records[model][id]
		if matches(rec, domain) {
			matched = append(matched, rec)
		}
	}

	if order, _ := kwargs["order"].(string); order != "" {
		sortRecords(matched, order)
	}
	if limit, ok := kwargs["limit"].(float64); ok && limit > 0 && int(limit) < len(matched) {
		matched = matched[:int(limit)]
	}

	out := make([]map[string]any, 0, len(matched))
	for _, rec := range matched {
		out = append(out, render(rec, fields))
	}
	return out, nil
}

func (f *Fake) create(model string, values map[string]any) int64 {
	rec := copyMap(values)
	if _, ok := rec["create_date"]; !ok {
		rec["create_date"] = crm.FormatDateTime(f.Now())
	}
	if model == "sale.order" {
		if _, ok := rec["state"]; !ok {
			rec["state"] = "draft"
		}
	}

	lines, hasLines := rec["order_line"].([]any)
	delete(rec, "order_line")
	id := f.insert(model, rec)

	if hasLines {
		var lineIDs []any
		for _, cmd := range lines {
			parts, ok := cmd.([]any)
			if !ok || len(parts) != 3 {
				continue
			}
			lineValues, ok := parts[2].(map[string]any)
			if !ok {
				continue
			}
			line := copyMap(lineValues)
			line["order_id"] = float64(id)
			lineIDs = append(lineIDs, float64(f.insert(model+".line", line)))
		}
		f.records[model][id]["order_line"] = lineIDs
	}
	return id
}

func (f *Fake) insert(model string, rec map[string]any) int64 {
	if f.records[model] == nil {
		f.records[model] = make(map[int64]map[string]any)
	}
	id := f.nextID
	if v, ok := rec["id"].(float64); ok && v > 0 {
		id = int64(v)
	}
	if id >= f.nextID {
		f.nextID = id + 1
	}
	rec["id"] = float64(id)
	f.records[model][id] = rec
	return id
}

func (f *Fake) sortedIDs(model string) []int64 {
	ids := make([]int64, 0, len(f.records[model]))
	for id := range f.records[model] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func matches(rec map[string]any, domain []any) bool {
	for _, c := range domain {
		cond, ok := c.([]any)
		if !ok || len(cond) != 3 {
			continue
		}
		field, _ := cond[0].(string)
		op, _ := cond[1].(string)
		value := key(rec[field])

		switch op {
		case "=":
			if !equal(value, key(cond[2])) {
				return false
			}
		case "!=":
			if equal(value, key(cond[2])) {
				return false
			}
		case "in":
			list, _ := cond[2].([]any)
			found := false
			for _, candidate := range list {
				if equal(value, key(candidate)) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		case "=ilike":
			a, _ := value.(string)
			b, _ := cond[2].(string)
			if !likeMatch(strings.ToLower(b), strings.ToLower(a)) {
				return false
			}
		}
	}
	return true
}

// likeMatch reports whether s matches a SQL LIKE pattern with backslash escapes
func likeMatch(pattern, s string) bool {
	p, str := []rune(pattern), []rune(s)
	var match func(i, j int) bool
	match = func(i, j int) bool {
		for i < len(p) {
			switch p[i] {
			case '%':
				for k := j; k <= len(str); k++ {
					if match(i+1, k) {
						return true
					}
				}
				return false
			case '_':
				if j >= len(str) {
					return false
				}
			case '\\':
				if i+1 < len(p) {
					i++
				}
				fallthrough
			default:
				if j >= len(str) || str[j] != p[i] {
					return false
				}
			}
			i++
			j++
		}
		return j == len(str)
	}
	return match(0, 0)
}

// key reduces a stored value to what a domain compares against
func key(v any) any {
	switch t := v.(type) {
	case nil:
		return false
	case []any:
		if len(t) == 2 {
			if _, ok := t[1].(string); ok {
				return t[0]
			}
		}
	}
	return v
}

func equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

func sortRecords(records []map[string]any, order string) {
	type term struct {
		field string
		desc  bool
	}
	var terms []term
	for _, part := range strings.Split(order, ",") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		terms = append(terms, term{field: fields[0], desc: len(fields) > 1 && strings.EqualFold(fields[1], "desc")})
	}

	sort.SliceStable(records, func(i, j int) bool {
		for _, t := range terms {
			c := compare(records[i][t.field], records[j][t.field])
			if c == 0 {
				continue
			}
			if t.desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func compare(a, b any) int {
	switch av := a.(type) {
	case float64:
		bv, _ := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case string:
		bv, _ := b.(string)
		return strings.Compare(av, bv)
	}
	return 0
}

func render(rec map[string]any, fields []string) map[string]any {
	if len(fields) == 0 {
		fields = make([]string, 0, len(rec))
		for k := range rec {
			fields = append(fields, k)
		}
	}
	out := map[string]any{"id": rec["id"]}
	for _, field := range fields {
		v, ok := rec[field]
		if !ok || v == nil {
			out[field] = false
			continue
		}
		if n, isNum := v.(float64); isNum && many2one[field] {
			out[field] = []any{n, ""}
			continue
		}
		out[field] = v
	}
	return out
}

func missingRecord(model string, id int64) error {
	return &crm.Fault{
		Code:    200,
		Name:    "odoo.exceptions.MissingError",
		Message: fmt.Sprintf("Record does not exist or has been deleted. (Record: %s(%d,))", model, id),
	}
}

func arg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func idList(v any) []int64 {
	list, _ := v.([]any)
	ids := make([]int64, 0, len(list))
	for _, item := range list {
		if n, ok := item.(float64); ok {
			ids = append(ids, int64(n))
		}
	}
	return ids
}

func stringList(v any) []string {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func truthy(v any) bool {
	b, _ := v.(bool)
	return b
}

func roundTrip(in any, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func normalizeMap(values map[string]any) map[string]any {
	out := map[string]any{}
	_ = roundTrip(values, &out)
	return out
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
