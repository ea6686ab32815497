package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Querier is the subset of pgx used for schema introspection. Both
// *pgxpool.Pool and *pgx.Conn satisfy it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Table is raw relation metadata read from information_schema, the
// intermediate form between the database catalog and Resource values.
type Table struct {
	Name        string
	Columns     []Column
	PrimaryKeys []string
	ForeignKeys []ForeignKey
}

// Column is raw column metadata.
type Column struct {
	Name       string
	DataType   string
	IsNullable bool
}

// ForeignKey is raw foreign-key metadata.
type ForeignKey struct {
	Column           string
	ReferencedTable  string
	ReferencedColumn string
}

// Introspect reads table metadata from the database and derives a resource
// registry from it. See Derive for the derivation rules.
func Introspect(ctx context.Context, conn Querier, pgSchema string) (*Registry, error) {
	tables, err := loadTables(ctx, conn, pgSchema)
	if err != nil {
		return nil, fmt.Errorf("load tables: %w", err)
	}
	return Derive(tables)
}

// Derive builds a Registry from raw table metadata:
//
//   - every table with a single-column primary key becomes a resource whose
//     type is the table name and whose key is the primary-key column;
//   - each foreign key yields a many-to-one relationship on the owning table
//     (named after the column, with a trailing "_id" stripped) and a reverse
//     one-to-many on the referenced table (named after the owning table);
//   - a table whose primary key is exactly its two foreign-key columns is an
//     association table: it yields a many-to-many relationship on each
//     referenced table instead of becoming a resource itself;
//   - foreign-key columns and the key column are not exposed as attributes.
//
// Tables with composite primary keys that are not association tables are
// skipped.
func Derive(tables []Table) (*Registry, error) {
	byName := make(map[string]Table, len(tables))
	for _, t := range tables {
		byName[t.Name] = t
	}

	resources := make(map[string]*Resource)
	var assoc []Table
	for _, t := range tables {
		if isAssociation(t) {
			assoc = append(assoc, t)
			continue
		}
		if len(t.PrimaryKeys) != 1 {
			continue
		}
		res := &Resource{
			Type:          t.Name,
			Table:         t.Name,
			Key:           t.PrimaryKeys[0],
			Attributes:    make(map[string]Attribute),
			Relationships: make(map[string]Relationship),
		}
		for _, col := range t.Columns {
			if col.Name == res.Key || isForeignKeyColumn(t, col.Name) {
				continue
			}
			res.Attributes[col.Name] = Attribute{Column: col.Name, Type: col.DataType}
		}
		resources[t.Name] = res
	}

	// Foreign keys on resource tables: many-to-one plus the reverse
	// one-to-many.
	for _, t := range tables {
		src, ok := resources[t.Name]
		if !ok {
			continue
		}
		for _, fk := range t.ForeignKeys {
			tgt, ok := resources[fk.ReferencedTable]
			if !ok {
				continue
			}
			name := relationshipName(fk.Column)
			src.Relationships[name] = Relationship{
				Name:        name,
				Target:      tgt.Type,
				Kind:        ManyToOne,
				LocalColumn: fk.Column,
			}
			tgt.Relationships[t.Name] = Relationship{
				Name:         t.Name,
				Target:       src.Type,
				Kind:         OneToMany,
				RemoteColumn: fk.Column,
			}
		}
	}

	// Association tables: many-to-many on both ends.
	for _, t := range assoc {
		left, right := t.ForeignKeys[0], t.ForeignKeys[1]
		lres, lok := resources[left.ReferencedTable]
		rres, rok := resources[right.ReferencedTable]
		if !lok || !rok {
			continue
		}
		lres.Relationships[rres.Type] = Relationship{
			Name:             rres.Type,
			Target:           rres.Type,
			Kind:             ManyToMany,
			JoinTable:        t.Name,
			JoinSourceColumn: left.Column,
			JoinTargetColumn: right.Column,
		}
		rres.Relationships[lres.Type] = Relationship{
			Name:             lres.Type,
			Target:           lres.Type,
			Kind:             ManyToMany,
			JoinTable:        t.Name,
			JoinSourceColumn: right.Column,
			JoinTargetColumn: left.Column,
		}
	}

	all := make([]*Resource, 0, len(resources))
	for _, res := range resources {
		all = append(all, res)
	}
	return NewRegistry(all...)
}

// isAssociation reports whether t's primary key is exactly its two
// foreign-key columns.
func isAssociation(t Table) bool {
	if len(t.ForeignKeys) != 2 || len(t.PrimaryKeys) != 2 {
		return false
	}
	keys := map[string]bool{t.PrimaryKeys[0]: true, t.PrimaryKeys[1]: true}
	return keys[t.ForeignKeys[0].Column] && keys[t.ForeignKeys[1].Column]
}

func isForeignKeyColumn(t Table, name string) bool {
	for _, fk := range t.ForeignKeys {
		if fk.Column == name {
			return true
		}
	}
	return false
}

// relationshipName derives a relationship name from a foreign-key column,
// stripping a conventional "_id" suffix.
func relationshipName(column string) string {
	if name := strings.TrimSuffix(column, "_id"); name != "" && name != column {
		return name
	}
	return column
}

func loadTables(ctx context.Context, conn Querier, pgSchema string) ([]Table, error) {
	rows, err := conn.Query(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`, pgSchema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tables := make([]Table, 0, len(names))
	for _, name := range names {
		t := Table{Name: name}
		if t.Columns, t.PrimaryKeys, err = loadColumns(ctx, conn, pgSchema, name); err != nil {
			return nil, fmt.Errorf("columns of %s: %w", name, err)
		}
		if t.ForeignKeys, err = loadForeignKeys(ctx, conn, pgSchema, name); err != nil {
			return nil, fmt.Errorf("foreign keys of %s: %w", name, err)
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func loadColumns(ctx context.Context, conn Querier, pgSchema, table string) ([]Column, []string, error) {
	rows, err := conn.Query(ctx, `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES',
			EXISTS (
				SELECT 1 FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage kcu
					ON tc.constraint_name = kcu.constraint_name
					AND tc.table_schema = kcu.table_schema
				WHERE tc.constraint_type = 'PRIMARY KEY'
					AND tc.table_schema = $1
					AND tc.table_name = $2
					AND kcu.column_name = c.column_name
			) AS is_primary_key
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`, pgSchema, table)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var cols []Column
	var pkeys []string
	for rows.Next() {
		var col Column
		var isPK bool
		if err := rows.Scan(&col.Name, &col.DataType, &col.IsNullable, &isPK); err != nil {
			return nil, nil, err
		}
		cols = append(cols, col)
		if isPK {
			pkeys = append(pkeys, col.Name)
		}
	}
	return cols, pkeys, rows.Err()
}

func loadForeignKeys(ctx context.Context, conn Querier, pgSchema, table string) ([]ForeignKey, error) {
	rows, err := conn.Query(ctx, `
		SELECT
			kcu.column_name,
			ccu.table_name,
			ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON ccu.constraint_name = tc.constraint_name
			AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
			AND tc.table_schema = $1
			AND tc.table_name = $2`, pgSchema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fkeys []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.Column, &fk.ReferencedTable, &fk.ReferencedColumn); err != nil {
			return nil, err
		}
		fkeys = append(fkeys, fk)
	}
	return fkeys, rows.Err()
}
