// Package reconcile drives the library evaluator and reconciles its
// output against persisted evaluation state. It diffs the evaluated
// virtual instances into create/update/delete sets, derives ghost
// instances (virtual-source states no longer reproduced by evaluation)
// and publishes one consolidated project-model event per run. Re-running
// with an unchanged virtual-instance set is a no-op: empty diff, no
// events.
package reconcile

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/corral-io/corral/internal/library"
	"github.com/corral-io/corral/internal/logging"
	"github.com/corral-io/corral/internal/model"
	"github.com/corral-io/corral/internal/pubsub"
	"github.com/corral-io/corral/internal/resolver"
	"github.com/corral-io/corral/internal/store"
)

const internalEvalErrorMessage = "internal error during library evaluation"

// Reconciler re-evaluates a project's composites and syncs the result.
type Reconciler struct {
	store    *store.Store
	bus      *pubsub.Bus
	resolver resolver.ProjectResolver
	library  library.Evaluator
}

func NewReconciler(st *store.Store, bus *pubsub.Bus, res resolver.ProjectResolver, lib library.Evaluator) *Reconciler {
	return &Reconciler{store: st, bus: bus, resolver: res, library: lib}
}

// EvaluateProject resolves the declared graph, runs the evaluator and
// persists the outcome. Evaluation failure is data, not an error: both an
// evaluator-reported failure and a failed evaluator call are recorded as
// per-composite error evaluation states rather than propagated.
func (r *Reconciler) EvaluateProject(ctx context.Context, projectID string) error {
	res, err := r.resolver.Resolve(ctx, projectID)
	if err != nil {
		return err
	}

	var compositeIDs []string
	for _, inst := range res.Instances {
		if inst.Kind == model.KindComposite {
			compositeIDs = append(compositeIDs, inst.InstanceID)
		}
	}

	result, err := r.evaluate(ctx, res)
	var records []model.EvaluatedInstance
	switch {
	case err != nil:
		logging.Error("library evaluation failed", "project", projectID, "err", err)
		records = errorRecords(compositeIDs, internalEvalErrorMessage)
	case !result.Success:
		records = errorRecords(compositeIDs, result.Error)
	default:
		records = successRecords(result)
	}

	return r.SetInstanceEvaluationStates(ctx, projectID, records)
}

// evaluate shields the reconciler from a crashing evaluator: a panic in
// the call surfaces as an ordinary error and takes the internal-error
// path.
func (r *Reconciler) evaluate(ctx context.Context, res *resolver.Resolution) (result *library.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = &panicError{value: rec}
		}
	}()
	return r.library.EvaluateCompositeInstances(ctx, res.Library.ID, res.Instances, res.ResolvedInputs)
}

type panicError struct{ value any }

func (e *panicError) Error() string { return "evaluator panicked" }

func errorRecords(instanceIDs []string, message string) []model.EvaluatedInstance {
	records := make([]model.EvaluatedInstance, 0, len(instanceIDs))
	for _, id := range instanceIDs {
		records = append(records, model.EvaluatedInstance{
			InstanceID: id,
			Kind:       model.KindComposite,
			Status:     model.EvaluationError,
			Message:    message,
		})
	}
	return records
}

// successRecords renders one evaluated record per virtual instance (with
// its depth-first subtree as the message) plus one error record per
// top-level failure.
func successRecords(result *library.Result) []model.EvaluatedInstance {
	forest := buildForest(result.VirtualInstances)

	var records []model.EvaluatedInstance
	for _, vi := range result.VirtualInstances {
		message := "evaluated"
		if node, ok := forest[vi.InstanceID]; ok {
			message = renderTree(node, forest)
		}
		records = append(records, model.EvaluatedInstance{
			InstanceID: vi.InstanceID,
			Kind:       vi.Kind,
			Status:     model.EvaluationOK,
			Message:    message,
			Model:      vi.Model,
		})
	}
	for id, message := range result.TopLevelErrors {
		records = append(records, model.EvaluatedInstance{
			InstanceID: id,
			Kind:       model.KindComposite,
			Status:     model.EvaluationError,
			Message:    message,
		})
	}
	return records
}

// SetInstanceEvaluationStates reconciles the target evaluation-state set
// against the persisted rows in one transaction, tracking ghosts across
// the change.
func (r *Reconciler) SetInstanceEvaluationStates(ctx context.Context, projectID string, evaluated []model.EvaluatedInstance) error {
	db, err := r.store.Project(ctx, projectID)
	if err != nil {
		return err
	}

	return db.WithTx(ctx, func(tx *store.Tx) error {
		previous, err := tx.ListVirtualStates(ctx)
		if err != nil {
			return err
		}
		previousGhosts := ghostSet(previous)

		// Upsert an InstanceState per evaluated instance. Existing rows
		// only flip their source to virtual; status and model belong to
		// deployment, not evaluation.
		target := make(map[string]model.EvaluatedInstance, len(evaluated))
		for _, rec := range evaluated {
			st, err := tx.GetInstanceStateByInstanceID(ctx, rec.InstanceID)
			if err != nil {
				return err
			}
			if st == nil {
				now := time.Now().UTC()
				st = &model.InstanceState{
					ID:         uuid.NewString(),
					InstanceID: rec.InstanceID,
					Kind:       rec.Kind,
					Source:     model.SourceVirtual,
					Status:     model.StatusUndeployed,
					CreatedAt:  now,
					UpdatedAt:  now,
				}
				if err := tx.InsertInstanceState(ctx, st); err != nil {
					return err
				}
			} else if st.Source != model.SourceVirtual {
				if err := tx.SetInstanceSource(ctx, st.ID, model.SourceVirtual); err != nil {
					return err
				}
			}
			target[st.ID] = rec
		}

		existing, err := tx.ListEvaluationStates(ctx)
		if err != nil {
			return err
		}
		existingByID := make(map[string]model.InstanceEvaluationState, len(existing))
		for _, es := range existing {
			existingByID[es.StateID] = es
		}

		var creates []model.InstanceEvaluationState
		var updates []model.InstanceEvaluationState
		var deletes []string
		var deletedInstanceIDs []string

		for stateID, rec := range target {
			next := model.InstanceEvaluationState{
				StateID: stateID,
				Status:  rec.Status,
				Message: rec.Message,
				Model:   rec.Model,
			}
			prev, ok := existingByID[stateID]
			if !ok {
				creates = append(creates, next)
				continue
			}
			if evaluationChanged(prev, next) {
				updates = append(updates, next)
			}
		}
		for _, es := range existing {
			if _, ok := target[es.StateID]; !ok {
				deletes = append(deletes, es.StateID)
				deletedInstanceIDs = append(deletedInstanceIDs, es.InstanceID)
			}
		}

		if err := tx.InsertEvaluationStates(ctx, creates); err != nil {
			return err
		}
		for _, es := range updates {
			if err := tx.UpdateEvaluationState(ctx, es); err != nil {
				return err
			}
		}
		if err := tx.DeleteEvaluationStates(ctx, deletes); err != nil {
			return err
		}

		for _, es := range updates {
			r.bus.Publish(pubsub.InstanceStateTopic(projectID), model.InstanceStateEvent{
				Type:    "patched",
				StateID: es.StateID,
				Patch:   map[string]any{"evaluationState": es},
			})
		}

		current, err := tx.ListVirtualStates(ctx)
		if err != nil {
			return err
		}
		currentGhosts := ghostSet(current)

		var newGhostModels []*model.InstanceModel
		for _, row := range current {
			if currentGhosts[row.State.ID] && !previousGhosts[row.State.ID] {
				// A ghost without a stored model has nothing deployed worth
				// reporting.
				if row.State.Model != nil {
					newGhostModels = append(newGhostModels, row.State.Model)
				}
			}
		}
		var resolvedGhostIDs []string
		for _, row := range previous {
			if previousGhosts[row.State.ID] && !currentGhosts[row.State.ID] {
				resolvedGhostIDs = append(resolvedGhostIDs, row.State.InstanceID)
			}
		}

		event := model.ProjectModelEvent{
			DeletedVirtualInstanceIDs: deletedInstanceIDs,
			UpdatedGhostInstances:     newGhostModels,
			DeletedGhostInstanceIDs:   resolvedGhostIDs,
		}
		for _, es := range creates {
			if es.Model != nil {
				event.UpdatedVirtualInstances = append(event.UpdatedVirtualInstances, es.Model)
			}
		}
		for _, es := range updates {
			if es.Model != nil {
				event.UpdatedVirtualInstances = append(event.UpdatedVirtualInstances, es.Model)
			}
		}

		if !event.Empty() {
			r.bus.Publish(pubsub.ProjectModelTopic(projectID), event)
		}
		return nil
	})
}

func ghostSet(rows []store.VirtualStateRow) map[string]bool {
	ghosts := make(map[string]bool)
	for _, row := range rows {
		if row.IsGhost() {
			ghosts[row.State.ID] = true
		}
	}
	return ghosts
}

func evaluationChanged(prev, next model.InstanceEvaluationState) bool {
	if prev.Status != next.Status || prev.Message != next.Message {
		return true
	}
	return !modelEqual(prev.Model, next.Model)
}

func modelEqual(a, b *model.InstanceModel) bool {
	if a == nil || b == nil {
		return a == b
	}
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(aj) == string(bj)
}
