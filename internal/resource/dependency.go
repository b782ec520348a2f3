package resource

import (
	sq "github.com/Masterminds/squirrel"

	"basegraph.app/materializer/internal/model"
)

// FanOutFunc maps a change on a dependency table to a query selecting the
// affected root ids as a single text column named "id". It returns false when
// the event carries too little to locate any root, e.g. a delete without a
// usable snapshot.
type FanOutFunc func(ev model.ChangeEvent) (sq.SelectBuilder, bool)

type Dependency struct {
	Table  string
	FanOut FanOutFunc
}

// OwnRow is the dependency of a resource on its root table: the changed row
// is the root.
func OwnRow(table string) Dependency {
	return Dependency{
		Table: table,
		FanOut: func(ev model.ChangeEvent) (sq.SelectBuilder, bool) {
			return literalID(ev.RowID), true
		},
	}
}

// ForeignKey is a child table whose rows point at their root through column.
// Deletes read column from the snapshot since the row is gone.
func ForeignKey(table, column string) Dependency {
	return Dependency{
		Table: table,
		FanOut: func(ev model.ChangeEvent) (sq.SelectBuilder, bool) {
			if ev.Operation == model.OperationDelete {
				rootID, ok := ev.SnapshotString(column)
				if !ok {
					return sq.SelectBuilder{}, false
				}
				return literalID(rootID), true
			}
			return sq.Select("c." + column + "::text AS id").
				From(table + " c").
				Where(sq.Eq{"c.id": ev.RowID}), true
		},
	}
}

// ReferencedBy is a lookup table that roots point at through rootColumn. One
// changed lookup row can fan out to many roots. The referencing roots still
// exist after the lookup row is deleted, so deletes use the same query.
func ReferencedBy(table, rootTable, rootColumn string) Dependency {
	return Dependency{
		Table: table,
		FanOut: func(ev model.ChangeEvent) (sq.SelectBuilder, bool) {
			return sq.Select("r.id::text AS id").
				From(rootTable + " r").
				Where(sq.Eq{"r." + rootColumn: ev.RowID}), true
		},
	}
}

func literalID(id string) sq.SelectBuilder {
	return sq.Select().Column(sq.Expr("?::text AS id", id))
}
