package compose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"pazarglobal/pkg/ai"
	"pazarglobal/pkg/store"
)

// ErrMissingDraftID means a worker was dispatched without a draft to write
// to. Workers must fail on this rather than guess a target.
var ErrMissingDraftID = errors.New("compose: worker dispatched without draft id")

// WorkerContext carries the target of a worker run.
type WorkerContext struct {
	DraftID string
	OwnerID string
}

// Write is one proposed field mutation. The draft id travels with every
// write so the conflict guard can verify nothing targeted a different
// draft.
type Write struct {
	DraftID string
	Patch   store.FieldPatch
}

// WorkerResult is what one worker extracted from the message.
type WorkerResult struct {
	Writes []Write
	Raw    string
}

// Worker extracts one field from a free-text message.
type Worker interface {
	Name() string
	Run(ctx context.Context, msg string, wc WorkerContext) (WorkerResult, error)
}

// extractionWorker asks the model for one field via a forced tool call.
type extractionWorker struct {
	name   string
	caller ai.ToolCaller
	system string
	schema json.RawMessage
	apply  func(value string, draftID string) (Write, bool)
}

func (w *extractionWorker) Name() string { return w.name }

func (w *extractionWorker) Run(ctx context.Context, msg string, wc WorkerContext) (WorkerResult, error) {
	if strings.TrimSpace(wc.DraftID) == "" {
		return WorkerResult{}, ErrMissingDraftID
	}
	args, err := w.caller.CallTool(ctx, w.system, msg, ai.ToolSpec{
		Name:       "extract_" + w.name,
		Parameters: w.schema,
	})
	if err != nil {
		return WorkerResult{}, fmt.Errorf("%s worker: %w", w.name, err)
	}
	var parsed struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(args, &parsed); err != nil {
		return WorkerResult{Raw: string(args)}, nil
	}
	value := strings.TrimSpace(parsed.Value)
	if value == "" {
		return WorkerResult{Raw: string(args)}, nil
	}
	write, ok := w.apply(value, wc.DraftID)
	if !ok {
		return WorkerResult{Raw: value}, nil
	}
	return WorkerResult{Writes: []Write{write}, Raw: value}, nil
}

var extractValueSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "value": {"type": "string", "description": "extracted value, empty string if absent"}
  },
  "required": ["value"]
}`)

// NewFieldWorkers builds the title, description and price extraction
// workers over a shared tool caller.
func NewFieldWorkers(caller ai.ToolCaller, allowedCategories []string) []Worker {
	return []Worker{
		&extractionWorker{
			name:   "title",
			caller: caller,
			system: "Kullanıcı mesajından ilan başlığını çıkar. Başlık yoksa value boş kalsın.",
			schema: extractValueSchema,
			apply: func(value, draftID string) (Write, bool) {
				if !ValidTitle(value) {
					return Write{}, false
				}
				return Write{DraftID: draftID, Patch: store.FieldPatch{Title: &value}}, true
			},
		},
		&extractionWorker{
			name:   "description",
			caller: caller,
			system: "Kullanıcı mesajından ürün açıklamasını çıkar. Açıklama yoksa value boş kalsın.",
			schema: extractValueSchema,
			apply: func(value, draftID string) (Write, bool) {
				if !ValidDescription(value) {
					return Write{}, false
				}
				return Write{DraftID: draftID, Patch: store.FieldPatch{Description: &value}}, true
			},
		},
		&extractionWorker{
			name:   "price",
			caller: caller,
			system: "Kullanıcı mesajından fiyatı çıkar, sadece sayı yaz. Fiyat yoksa value boş kalsın.",
			schema: extractValueSchema,
			apply: func(value, draftID string) (Write, bool) {
				price, ok := ParsePrice(value)
				if !ok {
					return Write{}, false
				}
				return Write{DraftID: draftID, Patch: store.FieldPatch{Price: &price}}, true
			},
		},
		&extractionWorker{
			name:   "category",
			caller: caller,
			system: "Kullanıcı mesajından ürün kategorisini çıkar. Kategori yoksa value boş kalsın.",
			schema: extractValueSchema,
			apply: func(value, draftID string) (Write, bool) {
				canonical, ok := NormalizeCategory(value, allowedCategories)
				if !ok {
					return Write{}, false
				}
				return Write{DraftID: draftID, Patch: store.FieldPatch{Category: &canonical}}, true
			},
		},
	}
}

// ErrDraftConflict aborts a turn whose workers wrote to different drafts.
type ErrDraftConflict struct {
	DraftIDs []string
}

func (e *ErrDraftConflict) Error() string {
	return "compose: workers targeted multiple drafts: " + strings.Join(e.DraftIDs, ", ")
}

// RunBatch dispatches all workers concurrently, joins them, and runs the
// conflict guard over the combined writes. Individual worker failures are
// tolerated; a cross-draft write set is not.
func RunBatch(ctx context.Context, workers []Worker, msg string, wc WorkerContext) ([]Write, error) {
	results := make([]WorkerResult, len(workers))
	g, gctx := errgroup.WithContext(ctx)
	for i, w := range workers {
		i, w := i, w
		g.Go(func() error {
			res, err := w.Run(gctx, msg, wc)
			if err != nil {
				if errors.Is(err, ErrMissingDraftID) {
					return err
				}
				slog.Warn("field worker failed", "worker", w.Name(), "err", err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var writes []Write
	seen := map[string]struct{}{}
	var distinct []string
	for _, res := range results {
		for _, write := range res.Writes {
			writes = append(writes, write)
			if _, ok := seen[write.DraftID]; !ok {
				seen[write.DraftID] = struct{}{}
				distinct = append(distinct, write.DraftID)
			}
		}
	}
	if len(distinct) > 1 {
		return nil, &ErrDraftConflict{DraftIDs: distinct}
	}
	return writes, nil
}
