package directory

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/seatsync/seatsync/internal/plan"
)

// PostgresStore persists accounts and organizations in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed directory store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateAccount(ctx context.Context, a *Account) error {
	return insertAccount(ctx, p.db, a)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertAccount(ctx context.Context, db execer, a *Account) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO accounts (id, external_id, email, name, picture, role, organization_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.ExternalID, a.Email, a.Name, a.Picture, string(a.Role),
		nullable(a.OrganizationID), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrAccountExists
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Account(ctx context.Context, id string) (*Account, error) {
	return scanAccount(p.db.QueryRowContext(ctx, `
		SELECT id, external_id, email, name, picture, role, organization_id, created_at, updated_at
		FROM accounts WHERE id = $1`, id))
}

func (p *PostgresStore) AccountByExternalID(ctx context.Context, externalID string) (*Account, error) {
	return scanAccount(p.db.QueryRowContext(ctx, `
		SELECT id, external_id, email, name, picture, role, organization_id, created_at, updated_at
		FROM accounts WHERE external_id = $1`, externalID))
}

func (p *PostgresStore) DeleteAccount(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// AdmitMember locks the organization row, counts current members, and
// inserts the new account. The row lock serializes concurrent admissions
// so the seat limit holds under any interleaving.
func (p *PostgresStore) AdmitMember(ctx context.Context, orgID string, a *Account) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var seatLimit int
	err = tx.QueryRowContext(ctx, `
		SELECT seat_limit FROM organizations WHERE id = $1 FOR UPDATE`, orgID).Scan(&seatLimit)
	if err == sql.ErrNoRows {
		return ErrOrgNotFound
	}
	if err != nil {
		return err
	}

	var members int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM accounts WHERE organization_id = $1`, orgID).Scan(&members)
	if err != nil {
		return err
	}
	if members >= seatLimit {
		return ErrSeatLimitReached
	}

	a.OrganizationID = orgID
	if err := insertAccount(ctx, tx, a); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) CountMembers(ctx context.Context, orgID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM accounts WHERE organization_id = $1`, orgID).Scan(&n)
	return n, err
}

func (p *PostgresStore) ListMembers(ctx context.Context, orgID string) ([]*Account, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, external_id, email, name, picture, role, organization_id, created_at, updated_at
		FROM accounts WHERE organization_id = $1 ORDER BY name`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, a)
	}
	return members, rows.Err()
}

func (p *PostgresStore) CreateOrganizationForOwner(ctx context.Context, o *Organization, ownerAccountID string) error {
	if o.SeatLimit < 1 {
		return ErrInvalidSeatLimit
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var currentOrg sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT organization_id FROM accounts WHERE id = $1 FOR UPDATE`, ownerAccountID).Scan(&currentOrg)
	if err == sql.ErrNoRows {
		return ErrAccountNotFound
	}
	if err != nil {
		return err
	}
	if currentOrg.Valid && currentOrg.String != "" {
		return ErrAlreadyInOrganization
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO organizations (id, name, plan, seat_limit, stripe_customer_id, stripe_subscription_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ID, o.Name, string(o.Plan), o.SeatLimit,
		nullable(o.StripeCustomerID), nullable(o.StripeSubscriptionID),
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE accounts SET role = $1, organization_id = $2, updated_at = NOW()
		WHERE id = $3`,
		string(RoleAdmin), o.ID, ownerAccountID,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) Organization(ctx context.Context, id string) (*Organization, error) {
	var (
		o              Organization
		planStr        string
		customerID     sql.NullString
		subscriptionID sql.NullString
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, plan, seat_limit, stripe_customer_id, stripe_subscription_id, created_at, updated_at
		FROM organizations WHERE id = $1`, id).Scan(
		&o.ID, &o.Name, &planStr, &o.SeatLimit, &customerID, &subscriptionID,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrOrgNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Plan = plan.Plan(planStr)
	o.StripeCustomerID = customerID.String
	o.StripeSubscriptionID = subscriptionID.String
	return &o, nil
}

func (p *PostgresStore) UpdateOrganization(ctx context.Context, orgID string, upd OrgUpdate) (*Organization, error) {
	set := "updated_at = NOW()"
	args := []interface{}{}
	n := 1
	add := func(col string, v interface{}) {
		set += fmt.Sprintf(", %s = $%d", col, n)
		args = append(args, v)
		n++
	}
	if upd.Plan != "" {
		add("plan", string(upd.Plan))
	}
	if upd.SeatLimit > 0 {
		add("seat_limit", upd.SeatLimit)
	}
	if upd.CustomerID != "" {
		add("stripe_customer_id", upd.CustomerID)
	}
	if upd.SubscriptionID != "" {
		add("stripe_subscription_id", upd.SubscriptionID)
	}
	args = append(args, orgID)

	result, err := p.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE organizations SET %s WHERE id = $%d`, set, n), args...)
	if err != nil {
		return nil, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrOrgNotFound
	}
	return p.Organization(ctx, orgID)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var (
		a       Account
		roleStr string
		orgID   sql.NullString
	)
	err := row.Scan(&a.ID, &a.ExternalID, &a.Email, &a.Name, &a.Picture,
		&roleStr, &orgID, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Role = Role(roleStr)
	a.OrganizationID = orgID.String
	return &a, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*PostgresStore)(nil)
