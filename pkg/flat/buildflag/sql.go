package buildflag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4/json"

	"github.com/canopy-network/flatx/pkg/db/engine"
)

// FlagTable holds one JSON payload per flag code.
const FlagTable = "flat_index_flag"

var flagColumns = []engine.ColumnDef{
	{Name: "flag_code", Type: engine.TypeVarchar, PrimaryKey: true},
	{Name: "flag_data", Type: engine.TypeText, NotNull: true},
	{Name: "updated_at", Type: engine.TypeDatetime},
}

// SQLStore keeps flags in a relational table next to the flat tables.
type SQLStore struct {
	DB engine.Executor
}

// NewSQLStore creates the flag table if needed.
func NewSQLStore(ctx context.Context, db engine.Executor) (*SQLStore, error) {
	if err := engine.CreateTable(ctx, db, FlagTable, flagColumns); err != nil {
		return nil, err
	}
	return &SQLStore{DB: db}, nil
}

func (s *SQLStore) Load(ctx context.Context, code string) (Data, bool, error) {
	p := engine.NewParams(s.DB.Dialect())
	var raw string
	err := engine.QueryScalar(ctx, s.DB, &raw,
		fmt.Sprintf(`SELECT "flag_data" FROM %s WHERE "flag_code" = %s`, engine.Quote(FlagTable), p.Add(code)), p.Args()...)
	if errors.Is(err, engine.ErrNoRows) {
		return Data{}, false, nil
	}
	if err != nil {
		return Data{}, false, err
	}

	var w wire
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return Data{}, false, fmt.Errorf("decode flag data: %w", err)
	}
	d, err := fromWire(w)
	return d, true, err
}

func (s *SQLStore) Save(ctx context.Context, code string, data Data) error {
	raw, err := json.Marshal(toWire(data))
	if err != nil {
		return fmt.Errorf("encode flag data: %w", err)
	}
	p := engine.NewParams(s.DB.Dialect())
	_, err = s.DB.Exec(ctx, fmt.Sprintf(`INSERT INTO %s ("flag_code", "flag_data", "updated_at") VALUES (%s, %s, %s)
		ON CONFLICT ("flag_code") DO UPDATE SET "flag_data" = excluded."flag_data", "updated_at" = excluded."updated_at"`,
		engine.Quote(FlagTable), p.Add(code), p.Add(string(raw)), p.Add(time.Now().UTC())), p.Args()...)
	return err
}

func (s *SQLStore) Delete(ctx context.Context, code string) error {
	p := engine.NewParams(s.DB.Dialect())
	_, err := s.DB.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE "flag_code" = %s`, engine.Quote(FlagTable), p.Add(code)), p.Args()...)
	return err
}
