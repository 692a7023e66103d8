package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/olekukonko/tablewriter"

	"txlite/pkg/txn"
)

const (
	promptMain     = "txlite> "
	promptContinue = "   ...> "
)

// Output styles for query results.
const (
	OutputTable = "table"
	OutputPlain = "plain"
	OutputJSON  = "json"
)

var errQuit = errors.New("quit")

const helpText = `.commit              commit the open transaction
.rollback            roll back the open transaction
.status              show transaction state
.isolation [LEVEL]   show or set the implicit BEGIN mode (deferred, immediate, exclusive, none)
.timeout [DURATION]  show or set the busy timeout
.ddl on|off          run DDL inside the open transaction instead of committing first
.mode table|plain|json
.help                show this message
.quit                exit
`

// LineReader reads input lines. *readline.Instance implements it.
type LineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
}

// Shell executes statements typed by the user on one connection.
// Statements end with ';' and may span lines. Lines starting with '.' are
// meta-commands when no statement is pending.
type Shell struct {
	conn *txn.Conn
	out  io.Writer
	log  *slog.Logger
	mode string
	buf  strings.Builder
}

// NewShell creates a shell writing results to out.
func NewShell(conn *txn.Conn, out io.Writer, log *slog.Logger) *Shell {
	if log == nil {
		log = slog.Default()
	}
	return &Shell{conn: conn, out: out, log: log, mode: OutputTable}
}

// Run reads lines until EOF or .quit. Ctrl-C drops the pending statement,
// or exits when nothing is pending.
func (s *Shell) Run(ctx context.Context, r LineReader) error {
	for {
		if s.Pending() {
			r.SetPrompt(promptContinue)
		} else {
			r.SetPrompt(promptMain)
		}

		line, err := r.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if !s.Pending() {
				return nil
			}
			s.buf.Reset()
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}

		if err := s.Feed(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Pending reports whether an unterminated statement is buffered.
func (s *Shell) Pending() bool {
	return strings.TrimSpace(s.buf.String()) != ""
}

// Feed consumes one input line and runs every statement it completes.
// Statement errors are printed; only output failures and .quit are returned.
func (s *Shell) Feed(ctx context.Context, line string) error {
	if !s.Pending() && strings.HasPrefix(strings.TrimSpace(line), ".") {
		return s.meta(ctx, strings.TrimSpace(line))
	}

	s.buf.WriteString(line)
	s.buf.WriteByte('\n')

	stmts, rest := SplitStatements(s.buf.String())
	s.buf.Reset()
	s.buf.WriteString(rest)

	for _, stmt := range stmts {
		if err := s.execute(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Shell) execute(ctx context.Context, stmt string) error {
	cur, err := s.conn.Execute(ctx, stmt)
	if err != nil {
		s.log.Debug("statement failed", "statement", txn.Keyword(stmt), "error", err)
		_, werr := fmt.Fprintf(s.out, "Error: %v\n", err)
		return werr
	}
	defer func() { _ = cur.Close() }()

	if cols := cur.Columns(); len(cols) > 0 {
		rows, err := cur.FetchAll()
		if err != nil {
			_, werr := fmt.Fprintf(s.out, "Error: %v\n", err)
			return werr
		}
		return s.render(cols, rows)
	}

	if txn.Classify(stmt) == txn.DataModifyingDML && cur.RowsAffected() >= 0 {
		_, err := fmt.Fprintf(s.out, "%d row(s) affected\n", cur.RowsAffected())
		return err
	}
	return nil
}

func (s *Shell) render(cols []string, rows []txn.Row) error {
	values := make([][]string, len(rows))
	for i, row := range rows {
		values[i] = make([]string, len(row))
		for j, v := range row {
			values[i][j] = formatValue(v)
		}
	}

	switch s.mode {
	case OutputPlain:
		if _, err := fmt.Fprintln(s.out, strings.Join(cols, "|")); err != nil {
			return err
		}
		for _, v := range values {
			if _, err := fmt.Fprintln(s.out, strings.Join(v, "|")); err != nil {
				return err
			}
		}
	case OutputJSON:
		data := make([]map[string]any, 0, len(rows))
		for _, row := range rows {
			m := make(map[string]any, len(cols))
			for i, c := range cols {
				m[c] = jsonValue(row[i])
			}
			data = append(data, m)
		}
		out, err := json.Marshal(data)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(s.out, string(out)); err != nil {
			return err
		}
	default:
		tb := tablewriter.NewWriter(s.out)
		tb.SetHeader(cols)
		tb.SetAutoFormatHeaders(false)
		tb.AppendBulk(values)
		tb.Render()
	}
	return nil
}

func (s *Shell) meta(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	var err error
	switch cmd {
	case ".quit", ".exit":
		return errQuit
	case ".help":
		_, err = io.WriteString(s.out, helpText)
		return err
	case ".commit":
		err = s.conn.Commit(ctx)
	case ".rollback":
		err = s.conn.Rollback(ctx)
	case ".status":
		return s.status(ctx)
	case ".isolation":
		err = s.isolation(args)
	case ".timeout":
		err = s.timeout(ctx, args)
	case ".ddl":
		err = s.ddl(args)
	case ".mode":
		err = s.setMode(args)
	default:
		err = fmt.Errorf("unknown command %s, try .help", cmd)
	}

	if err != nil {
		_, werr := fmt.Fprintf(s.out, "Error: %v\n", err)
		return werr
	}
	return nil
}

func (s *Shell) status(ctx context.Context) error {
	st, err := s.conn.State(ctx)
	if err != nil {
		_, werr := fmt.Fprintf(s.out, "Error: %v\n", err)
		return werr
	}
	mode := "-"
	if st.State == txn.StateActive {
		mode = st.Mode.String()
	}
	_, err = fmt.Fprintf(s.out, "transaction: %s (%s)\nisolation: %s\nbusy timeout: %s\nepoch: %d\n",
		st.State, mode, s.conn.IsolationLevel(), s.conn.BusyTimeout(), st.Epoch)
	return err
}

func (s *Shell) isolation(args []string) error {
	if len(args) == 0 {
		_, err := fmt.Fprintln(s.out, s.conn.IsolationLevel())
		return err
	}
	level, err := txn.ParseIsolationLevel(args[0])
	if err != nil {
		return err
	}
	return s.conn.SetIsolationLevel(level)
}

func (s *Shell) timeout(ctx context.Context, args []string) error {
	if len(args) == 0 {
		_, err := fmt.Fprintln(s.out, s.conn.BusyTimeout())
		return err
	}
	d, err := time.ParseDuration(args[0])
	if err != nil {
		return err
	}
	return s.conn.SetBusyTimeout(ctx, d)
}

func (s *Shell) ddl(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: .ddl on|off")
	}
	switch strings.ToLower(args[0]) {
	case "on":
		s.conn.SetNeedsTransaction(txn.TransactionalDDL)
	case "off":
		s.conn.SetNeedsTransaction(nil)
	default:
		return errors.New("usage: .ddl on|off")
	}
	return nil
}

func (s *Shell) setMode(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: .mode table|plain|json")
	}
	switch m := strings.ToLower(args[0]); m {
	case OutputTable, OutputPlain, OutputJSON:
		s.mode = m
		return nil
	default:
		return fmt.Errorf("unknown output mode %q", args[0])
	}
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}

func jsonValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
