package docstore

// Op is a filter comparison operator.
type Op string

const (
	OpEq  Op = "=="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
	OpIn  Op = "in"
)

// Filter compares a top-level field against a value.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Direction of an ordering.
type Direction int

const (
	Asc Direction = iota
	Desc
)

// Query addresses the direct children of one collection path.
//
// IDStart/IDEnd restrict document ids to [IDStart, IDEnd) and imply
// ordering by id when OrderBy is empty. StartAfterID resumes a page after
// the given document id (paired with the same ordering).
type Query struct {
	Collection   string
	Filters      []Filter
	IDStart      string
	IDEnd        string
	OrderBy      string
	Direction    Direction
	Limit        int
	StartAfterID string
}

// Where appends an equality or comparison filter and returns q.
func (q Query) Where(field string, op Op, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Op: op, Value: value})
	return q
}
