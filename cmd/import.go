package main

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/donor-caging/internal/db"
)

var (
	importCSVPath string
	importUpsert  bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Bulk-load directory users from CSV",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("import"); err != nil {
			return err
		}

		f, err := os.Open(importCSVPath)
		if err != nil {
			return eris.Wrapf(err, "open %s", importCSVPath)
		}
		defer f.Close() //nolint:errcheck

		cols, rows, err := readDirectoryCSV(f)
		if err != nil {
			return err
		}

		st, err := initPostgres(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := loadUsers(ctx, st.Pool(), cols, rows, importUpsert)
		if err != nil {
			return err
		}

		zap.L().Info("import complete",
			zap.Int64("rows", n),
			zap.String("csv", importCSVPath),
			zap.Bool("upsert", importUpsert),
		)
		return nil
	},
}

// directoryColumns are the users columns a CSV header may name.
var directoryColumns = map[string]bool{
	"id": true, "firstname": true, "lastname": true, "zip": true, "address": true,
	"city": true, "state": true, "email": true, "phone": true, "last_gift_amount": true,
}

// readDirectoryCSV parses a directory export. The header names the columns;
// id is parsed as an integer and last_gift_amount as a decimal.
func readDirectoryCSV(r io.Reader) ([]string, [][]any, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, eris.Wrap(err, "import: read header")
	}
	cols := make([]string, len(header))
	for i, h := range header {
		col := strings.ToLower(strings.TrimSpace(h))
		if !directoryColumns[col] {
			return nil, nil, eris.Errorf("import: unknown column %q", h)
		}
		cols[i] = col
	}

	var rows [][]any
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, eris.Wrapf(err, "import: line %d", line)
		}
		row := make([]any, len(cols))
		for i, col := range cols {
			v := strings.TrimSpace(rec[i])
			switch col {
			case "id":
				id, err := strconv.ParseInt(v, 10, 64)
				if err != nil {
					return nil, nil, eris.Wrapf(err, "import: line %d: id", line)
				}
				row[i] = id
			case "last_gift_amount":
				if v == "" {
					row[i] = nil
					continue
				}
				amt, err := strconv.ParseFloat(v, 64)
				if err != nil {
					return nil, nil, eris.Wrapf(err, "import: line %d: last_gift_amount", line)
				}
				row[i] = amt
			default:
				row[i] = v
			}
		}
		rows = append(rows, row)
	}
	return cols, rows, nil
}

func hasColumn(cols []string, name string) bool {
	for _, c := range cols {
		if c == name {
			return true
		}
	}
	return false
}

// loadUsers writes rows into users with COPY, or merges them on id when
// upsert is set. Explicit ids move the id sequence past the loaded rows.
func loadUsers(ctx context.Context, pool db.Pool, cols []string, rows [][]any, upsert bool) (int64, error) {
	withID := hasColumn(cols, "id")

	var (
		n   int64
		err error
	)
	if upsert {
		if !withID {
			return 0, eris.New("import: --upsert requires an id column")
		}
		n, err = db.BulkUpsert(ctx, pool, db.UpsertConfig{
			Table:        "users",
			Columns:      cols,
			ConflictKeys: []string{"id"},
		}, rows)
	} else {
		n, err = db.CopyFrom(ctx, pool, "users", cols, rows)
	}
	if err != nil {
		return 0, eris.Wrap(err, "import: load users")
	}

	if withID && n > 0 {
		if _, err := pool.Exec(ctx,
			`SELECT setval(pg_get_serial_sequence('users', 'id'), (SELECT COALESCE(MAX(id), 1) FROM users))`); err != nil {
			return n, eris.Wrap(err, "import: advance id sequence")
		}
	}
	return n, nil
}

func init() {
	importCmd.Flags().StringVar(&importCSVPath, "csv", "", "path to CSV file (required)")
	importCmd.Flags().BoolVar(&importUpsert, "upsert", false, "merge rows on id instead of appending")
	_ = importCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(importCmd)
}
