package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/corral-io/corral/internal/model"
)

// JSON-valued columns are stored as TEXT; NULL round-trips to a nil map
// or nil pointer.

func marshalJSON(v any) (sql.NullString, error) {
	switch val := v.(type) {
	case nil:
		return sql.NullString{}, nil
	case map[string]any:
		if val == nil {
			return sql.NullString{}, nil
		}
	case *model.InstanceModel:
		if val == nil {
			return sql.NullString{}, nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal json column: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func unmarshalMap(ns sql.NullString) (map[string]any, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, fmt.Errorf("unmarshal json column: %w", err)
	}
	return m, nil
}

func unmarshalModel(ns sql.NullString) (*model.InstanceModel, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var m model.InstanceModel
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, fmt.Errorf("unmarshal model column: %w", err)
	}
	return &m, nil
}

// placeholders returns "?, ?, ..." for n parameters.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
