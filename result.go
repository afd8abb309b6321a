package postgrex

import "github.com/aMasakiTakahashi/postgrex/wire"

// Result is the response to a query, after decode mapping.
type Result struct {
	// Columns are the result column names, nil if the statement returned no
	// row description.
	Columns []string

	// Rows are the result rows, passed through the call's decode mapper if
	// one was supplied.
	Rows [][]any

	// NumRows is the number of fetched or affected rows.
	NumRows int64

	// CommandTag is the status text reported by the server.
	CommandTag wire.CommandTag
}

func newResult(wr *wire.Result, o *callOptions) *Result {
	r := &Result{
		Rows:       wr.Rows,
		CommandTag: wr.CommandTag,
	}

	if len(wr.FieldDescriptions) > 0 {
		r.Columns = make([]string, len(wr.FieldDescriptions))
		for i := range wr.FieldDescriptions {
			r.Columns[i] = wr.FieldDescriptions[i].Name
		}
		r.NumRows = int64(len(wr.Rows))
	} else {
		r.NumRows = wr.CommandTag.RowsAffected()
	}

	// Mapped rows go into a fresh slice; wr.Rows belongs to the wire layer.
	if o.decodeMapper != nil {
		mapped := make([][]any, len(wr.Rows))
		for i := range wr.Rows {
			mapped[i] = o.decodeMapper(wr.Rows[i])
		}
		r.Rows = mapped
	}

	return r
}

// PreparedStatement is a client-side handle to a server-side prepared
// statement. It is only guaranteed to be valid on the physical connection it
// was prepared on; executing it after the connection was recycled surfaces the
// server's invalid-statement error to the caller.
type PreparedStatement struct {
	Name      string
	SQL       string
	ParamOIDs []uint32
	Fields    []wire.FieldDescription
}
