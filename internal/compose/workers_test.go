package compose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"pazarglobal/pkg/ai"
	"pazarglobal/pkg/store"
)

// toolStub answers tool calls by name.
type toolStub struct {
	byTool map[string]string
	err    error
}

func (s toolStub) CallTool(ctx context.Context, system, user string, tool ai.ToolSpec) (json.RawMessage, error) {
	if s.err != nil {
		return nil, s.err
	}
	value, ok := s.byTool[tool.Name]
	if !ok {
		value = ""
	}
	return json.RawMessage(fmt.Sprintf(`{"value":%q}`, value)), nil
}

var testCategories = []string{"Elektronik", "Ev & Yaşam", "Otomotiv", "Diğer"}

func TestWorkersRequireDraftID(t *testing.T) {
	workers := NewFieldWorkers(toolStub{}, testCategories)

	for _, w := range workers {
		if _, err := w.Run(context.Background(), "mesaj", WorkerContext{OwnerID: "o"}); !errors.Is(err, ErrMissingDraftID) {
			t.Fatalf("worker %s: expected ErrMissingDraftID, got %v", w.Name(), err)
		}
	}

	if _, err := RunBatch(context.Background(), workers, "mesaj", WorkerContext{OwnerID: "o"}); !errors.Is(err, ErrMissingDraftID) {
		t.Fatalf("batch: expected ErrMissingDraftID, got %v", err)
	}
}

func TestRunBatchExtractsFields(t *testing.T) {
	workers := NewFieldWorkers(toolStub{byTool: map[string]string{
		"extract_title":       "iPhone 13 Pro",
		"extract_description": "Az kullanılmış, kutulu",
		"extract_price":       "25000",
		"extract_category":    "telefon",
	}}, testCategories)

	writes, err := RunBatch(context.Background(), workers, "iPhone 13 Pro satıyorum", WorkerContext{DraftID: "d-1", OwnerID: "o"})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(writes) != 4 {
		t.Fatalf("expected 4 writes, got %d: %+v", len(writes), writes)
	}
	merged := store.FieldPatch{}
	for _, w := range writes {
		if w.DraftID != "d-1" {
			t.Fatalf("write targeted wrong draft: %q", w.DraftID)
		}
		if w.Patch.Title != nil {
			merged.Title = w.Patch.Title
		}
		if w.Patch.Price != nil {
			merged.Price = w.Patch.Price
		}
		if w.Patch.Category != nil {
			merged.Category = w.Patch.Category
		}
	}
	if merged.Title == nil || *merged.Title != "iPhone 13 Pro" {
		t.Fatalf("title write missing: %+v", merged)
	}
	if merged.Price == nil || *merged.Price != 25000 {
		t.Fatalf("price write missing: %+v", merged)
	}
	if merged.Category == nil || *merged.Category != "Elektronik" {
		t.Fatalf("category not normalized: %+v", merged)
	}
}

func TestRunBatchToleratesWorkerFailures(t *testing.T) {
	workers := NewFieldWorkers(toolStub{err: errors.New("provider down")}, testCategories)

	writes, err := RunBatch(context.Background(), workers, "mesaj", WorkerContext{DraftID: "d-1"})
	if err != nil {
		t.Fatalf("batch must tolerate worker failures: %v", err)
	}
	if len(writes) != 0 {
		t.Fatalf("unexpected writes: %+v", writes)
	}
}

// rogueWorker writes to a draft it was not given.
type rogueWorker struct{ target string }

func (w rogueWorker) Name() string { return "rogue" }
func (w rogueWorker) Run(ctx context.Context, msg string, wc WorkerContext) (WorkerResult, error) {
	title := "hijack"
	return WorkerResult{Writes: []Write{{DraftID: w.target, Patch: store.FieldPatch{Title: &title}}}}, nil
}

func TestRunBatchDetectsCrossDraftConflict(t *testing.T) {
	workers := append(
		NewFieldWorkers(toolStub{byTool: map[string]string{"extract_title": "iPhone 13"}}, testCategories),
		rogueWorker{target: "d-other"},
	)

	writes, err := RunBatch(context.Background(), workers, "mesaj", WorkerContext{DraftID: "d-1"})
	var conflict *ErrDraftConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict error, got %v (writes %+v)", err, writes)
	}
	if len(conflict.DraftIDs) != 2 {
		t.Fatalf("conflict should carry both ids: %+v", conflict.DraftIDs)
	}
	if writes != nil {
		t.Fatal("conflicting batch must not return writes")
	}
	joined := strings.Join(conflict.DraftIDs, ",")
	if !strings.Contains(joined, "d-1") || !strings.Contains(joined, "d-other") {
		t.Fatalf("ids missing from conflict: %v", conflict.DraftIDs)
	}
}
