package model

type Kind string

const (
	// CreateNode merges a group of nodes sharing one label.
	CreateNode Kind = "CREATE_NODE"
	// CreateRelation merges a group of relationships sharing one type.
	CreateRelation Kind = "CREATE_RELATION"
)

// Statement is a single parameterized write covering a group of rows.
// Query and Guard bind the rows as $rows.
type Statement struct {
	Kind  Kind
	Label string
	Query string
	// Guard, when set, runs first in the same transaction and returns one
	// record per row whose endpoints are absent.
	Guard string
	Rows  []map[string]interface{}
}

func (s Statement) Params() map[string]interface{} {
	return map[string]interface{}{"rows": s.Rows}
}
