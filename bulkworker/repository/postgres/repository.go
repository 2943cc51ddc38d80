package postgres

import (
	"context"
	"database/sql"
	goerrors "errors"
	"fmt"
	"sync"

	"github.com/huandu/go-sqlbuilder"
	"github.com/ledgerly/servicing-app/bulkworker/repository"
	"github.com/ledgerly/servicing-app/bulkworker/rules"
	"github.com/ledgerly/servicing-app/servicing/models"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

type queryable interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type executable interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const (
	sqlFlavor = sqlbuilder.PostgreSQL

	pqUniqueViolation = "23505"
)

// Ensure Repository satisfies the interface
var _ repository.Repository = &Repository{}

type Repository struct {
	queryable
	executable

	// mu is set for transaction backed repositories. A transaction is bound
	// to a single connection, so statements and their row scans must not
	// interleave.
	mu *sync.Mutex
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{queryable: db, executable: db}
}

func NewRepositoryTx(tx *sql.Tx) *Repository {
	return &Repository{queryable: tx, executable: tx, mu: &sync.Mutex{}}
}

func (r *Repository) GetJobByID(ctx context.Context, jobID int64) (*models.BulkJob, error) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select("id", "status", "input_file", "row_count", "output_file", "action_code", "extra_config",
		"action_record_id", "created_at", "updated_at")
	sb.From("bulk_jobs").Where(sb.Equal("id", jobID))

	query, args := sb.Build()

	var (
		j          models.BulkJob
		outputFile sql.NullString
	)
	err := r.queryRow(ctx, query, args, &j.ID, &j.Status, &j.InputFile, &j.RowCount, &outputFile, &j.ActionCode,
		&j.ExtraConfig, &j.ActionRecordID, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if goerrors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrJobNotFound
		}
		return nil, err
	}
	j.OutputFile = outputFile.String

	return &j, nil
}

func (r *Repository) UpdateJobStatus(ctx context.Context, jobID int64, new models.JobStatus) error {
	ub := sqlFlavor.NewUpdateBuilder().Update("bulk_jobs")
	ub.Set(ub.Assign("status", new), "updated_at = NOW()")
	ub.Where(ub.Equal("id", jobID))
	return r.updateJob(ctx, ub)
}

func (r *Repository) UpdateJobStatusCheckStatus(ctx context.Context, jobID int64, current, new models.JobStatus) error {
	ub := sqlFlavor.NewUpdateBuilder().Update("bulk_jobs")
	ub.Set(ub.Assign("status", new), "updated_at = NOW()")
	ub.Where(ub.Equal("id", jobID), ub.Equal("status", current))
	return r.updateJob(ctx, ub)
}

func (r *Repository) CompleteJob(ctx context.Context, jobID int64, outputFile string) error {
	ub := sqlFlavor.NewUpdateBuilder().Update("bulk_jobs")
	ub.Set(ub.Assign("status", models.JobStatusCompleted), ub.Assign("output_file", outputFile), "updated_at = NOW()")
	ub.Where(ub.Equal("id", jobID), ub.Equal("status", models.JobStatusProcessing))
	return r.updateJob(ctx, ub)
}

func (r *Repository) UpdateJobRowCount(ctx context.Context, jobID int64, rowCount int) error {
	ub := sqlFlavor.NewUpdateBuilder().Update("bulk_jobs")
	ub.Set(ub.Assign("row_count", rowCount), "updated_at = NOW()")
	ub.Where(ub.Equal("id", jobID))
	return r.updateJob(ctx, ub)
}

func (r *Repository) updateJob(ctx context.Context, ub *sqlbuilder.UpdateBuilder) error {
	query, args := ub.Build()
	affected, err := r.execAffected(ctx, query, args)
	if err != nil {
		return err
	}
	if affected == 0 {
		return repository.ErrJobNotUpdated
	}
	return nil
}

func (r *Repository) GetActionRecordByID(ctx context.Context, id int64) (*models.ActionRecord, error) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select("id", "reason_code", "note", "actor_id", "created_at")
	sb.From("action_records").Where(sb.Equal("id", id))

	query, args := sb.Build()
	var ar models.ActionRecord
	if err := r.queryRow(ctx, query, args, &ar.ID, &ar.ReasonCode, &ar.Note, &ar.ActorID, &ar.CreatedAt); err != nil {
		if goerrors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrActionNotFound
		}
		return nil, err
	}
	return &ar, nil
}

var accountColumns = []string{"id", "first_name", "last_name", "email", "phone", "address_line1", "city", "state",
	"zip", "status", "blocked"}

func (r *Repository) FindAccountsByIDs(ctx context.Context, ids []int64) (map[int64]*models.Account, error) {
	accounts := make(map[int64]*models.Account, len(ids))
	if len(ids) == 0 {
		return accounts, nil
	}

	sb := sqlFlavor.NewSelectBuilder().Select(accountColumns...).From("accounts")
	sb.Where(sb.In("id", sqlbuilder.Flatten(ids)...))

	query, args := sb.Build()
	err := r.query(ctx, query, args, func(rows *sql.Rows) error {
		var a models.Account
		var first, last, email, phone, address, city, state, zip sql.NullString
		if err := rows.Scan(&a.ID, &first, &last, &email, &phone, &address, &city, &state, &zip,
			&a.Status, &a.Blocked); err != nil {
			return err
		}
		a.FirstName, a.LastName, a.Email, a.Phone = first.String, last.String, email.String, phone.String
		a.AddressLine1, a.City, a.State, a.Zip = address.String, city.String, state.String, zip.String
		accounts[a.ID] = &a
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to find accounts")
	}
	return accounts, nil
}

// textMatch is the SQL counterpart of rules.NormalizeText: NFC, lower cased
// rune by rune, the same whitespace set collapsed and trimmed. normalize()
// needs Postgres 13 on a UTF8 database.
const textMatch = `btrim(regexp_replace(lower(normalize(%s, NFC)), '[ \t\n\v\f\r]+', ' ', 'g'))`

// FindAccountsMatching returns the ids of every account carrying the
// attributes of rule, ignoring account status. Phones are compared as stored:
// the account service writes them in E.164, the form rules.NormalizePhone
// produces, and numbers stored in any other format are not matched.
func (r *Repository) FindAccountsMatching(ctx context.Context, rule rules.MatchRule) ([]int64, error) {
	sb := sqlFlavor.NewSelectBuilder().Select("id").From("accounts")
	switch m := rule.(type) {
	case rules.PhoneRule:
		sb.Where(sb.Equal("phone", m.Phone))
	case rules.EmailRule:
		sb.Where(sb.Equal(fmt.Sprintf(textMatch, "email"), m.Email))
	case rules.NameAddressRule:
		for _, f := range m.Fields() {
			sb.Where(sb.Equal(fmt.Sprintf(textMatch, f.Column), f.Value))
		}
	default:
		return nil, errors.Errorf("cannot match accounts on rule kind %s", rule.Kind())
	}
	sb.OrderBy("id")

	query, args := sb.Build()
	var ids []int64
	err := r.query(ctx, query, args, func(rows *sql.Rows) error {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find accounts matching %s rule", rule.Kind())
	}
	return ids, nil
}

func (r *Repository) UpdateAccountStatus(ctx context.Context, accountID int64, status models.AccountStatus) error {
	ub := sqlFlavor.NewUpdateBuilder().Update("accounts")
	ub.Set(ub.Assign("status", status), "updated_at = NOW()")
	ub.Where(ub.Equal("id", accountID))

	query, args := ub.Build()
	affected, err := r.execAffected(ctx, query, args)
	if err != nil {
		return err
	}
	if affected == 0 {
		return repository.ErrAccountNotFound
	}
	return nil
}

func (r *Repository) FlagAccount(ctx context.Context, accountID int64, flag repository.Flag) (bool, error) {
	// Blocking first surfaces a missing account before the alert insert can
	// fail on its foreign key.
	ub := sqlFlavor.NewUpdateBuilder().Update("accounts")
	ub.Set("blocked = TRUE", "updated_at = NOW()")
	ub.Where(ub.Equal("id", accountID))

	query, args := ub.Build()
	affected, err := r.execAffected(ctx, query, args)
	if err != nil {
		return false, errors.Wrapf(err, "failed to block account %d", accountID)
	}
	if affected == 0 {
		return false, repository.ErrAccountNotFound
	}

	ib := sqlFlavor.NewInsertBuilder().InsertInto("alerts")
	ib.Cols("account_id", "match_rule_id", "bulk_job_id", "action_record_id").
		Values(accountID, flag.RuleID, flag.JobID, flag.ActionRecordID)
	query, args = ib.Build()

	var alertID int64
	err = r.queryRow(ctx, query+" ON CONFLICT DO NOTHING RETURNING id", args, &alertID)
	if goerrors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to create alert for account %d", accountID)
	}
	return true, nil
}

func (r *Repository) ResolveAlert(ctx context.Context, alertID int64) error {
	ub := sqlFlavor.NewUpdateBuilder().Update("alerts")
	ub.Set("resolved_at = NOW()")
	ub.Where(ub.Equal("id", alertID), ub.IsNull("resolved_at"))
	query, args := ub.Build()

	var accountID int64
	if err := r.queryRow(ctx, query+" RETURNING account_id", args, &accountID); err != nil {
		if goerrors.Is(err, sql.ErrNoRows) {
			return repository.ErrAlertNotFound
		}
		return err
	}

	query, args = sqlbuilder.Buildf(
		"UPDATE accounts SET blocked = EXISTS (SELECT 1 FROM alerts WHERE account_id = %v AND resolved_at IS NULL), updated_at = NOW() WHERE id = %v",
		accountID, accountID).BuildWithFlavor(sqlFlavor)
	_, err := r.exec(ctx, query, args)
	return err
}

func (r *Repository) GetRuleByKey(ctx context.Context, key string) (*models.PersistedRule, error) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select("id", "rule_key", "kind", "created_by", "created_at")
	sb.From("match_rules").Where(sb.Equal("rule_key", key))

	query, args := sb.Build()
	var pr models.PersistedRule
	if err := r.queryRow(ctx, query, args, &pr.ID, &pr.Key, &pr.Kind, &pr.CreatedBy, &pr.CreatedAt); err != nil {
		if goerrors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrRuleNotFound
		}
		return nil, err
	}
	return &pr, nil
}

func (r *Repository) CreateRule(ctx context.Context, rule rules.MatchRule, actorID int64) (*models.PersistedRule, error) {
	fields := rule.Fields()
	if len(fields) == 0 {
		return nil, errors.Errorf("cannot persist rule kind %s", rule.Kind())
	}

	cols := []string{"rule_key", "kind"}
	values := []interface{}{rule.Key(), string(rule.Kind())}
	for _, f := range fields {
		cols = append(cols, f.Column)
		values = append(values, f.Value)
	}
	cols = append(cols, "created_by")
	values = append(values, actorID)

	ib := sqlFlavor.NewInsertBuilder().InsertInto("match_rules")
	ib.Cols(cols...).Values(values...)
	query, args := ib.Build()

	pr := models.PersistedRule{Key: rule.Key(), Kind: string(rule.Kind()), CreatedBy: actorID}
	err := r.queryRow(ctx, query+" ON CONFLICT (rule_key) DO NOTHING RETURNING id, created_at", args,
		&pr.ID, &pr.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if goerrors.Is(err, sql.ErrNoRows) || (goerrors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation) {
			return nil, repository.ErrRuleExists
		}
		return nil, errors.Wrap(err, "failed to create rule")
	}
	return &pr, nil
}

func (r *Repository) LinkRuleToJob(ctx context.Context, ruleID, jobID int64) error {
	ib := sqlFlavor.NewInsertBuilder().InsertInto("bulk_job_rules")
	ib.Cols("bulk_job_id", "match_rule_id").Values(jobID, ruleID)
	query, args := ib.Build()

	_, err := r.exec(ctx, query+" ON CONFLICT DO NOTHING", args)
	return err
}

func (r *Repository) CreateAdminNote(ctx context.Context, note models.AdminNote) error {
	ib := sqlFlavor.NewInsertBuilder().InsertInto("admin_notes")
	ib.Cols("account_id", "bulk_job_id", "action_record_id", "note", "actor_id").
		Values(note.AccountID, note.JobID, note.ActionRecordID, note.Note, note.ActorID)
	query, args := ib.Build()

	_, err := r.exec(ctx, query, args)
	return err
}

func (r *Repository) RecordAccountAction(ctx context.Context, action models.AccountAction) error {
	ib := sqlFlavor.NewInsertBuilder().InsertInto("account_actions")
	ib.Cols("account_id", "bulk_job_id", "action_code", "action_record_id").
		Values(action.AccountID, action.JobID, action.ActionCode, action.ActionRecordID)
	query, args := ib.Build()

	_, err := r.exec(ctx, query, args)
	return err
}

func (r *Repository) lock() func() {
	if r.mu == nil {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

func (r *Repository) queryRow(ctx context.Context, query string, args []interface{}, dest ...interface{}) error {
	defer r.lock()()
	return r.QueryRowContext(ctx, query, args...).Scan(dest...)
}

func (r *Repository) query(ctx context.Context, query string, args []interface{}, scan func(*sql.Rows) error) error {
	defer r.lock()()

	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *Repository) exec(ctx context.Context, query string, args []interface{}) (sql.Result, error) {
	defer r.lock()()
	return r.ExecContext(ctx, query, args...)
}

func (r *Repository) execAffected(ctx context.Context, query string, args []interface{}) (int64, error) {
	result, err := r.exec(ctx, query, args)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
