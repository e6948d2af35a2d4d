package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// PostgresStore is the read-mostly gateway to the relational entities. Task
// and board records in Mongo reference these rows by plain string ids, so
// every cross-store "foreign key" is checked here at mutation time.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetUserByID returns the user's public projection.
func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	const query = `SELECT user_id, username, name, email FROM users WHERE user_id = $1`
	var user User
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&user.UserID, &user.Username, &user.Name, &user.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, sql.ErrNoRows
		}
		return User{}, fmt.Errorf("lookup user %s: %w", userID, err)
	}
	return user, nil
}

// GetUsersByIDs returns projections for every id that exists; missing ids are
// simply absent from the result. One round trip.
func (s *PostgresStore) GetUsersByIDs(ctx context.Context, userIDs []string) ([]User, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(userIDs))
	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(
		`SELECT user_id, username, name, email FROM users WHERE user_id IN (%s)`,
		strings.Join(placeholders, ", "),
	)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.UserID, &user.Username, &user.Name, &user.Email); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// ListTeamMembers fetches the full membership of a team in one query.
func (s *PostgresStore) ListTeamMembers(ctx context.Context, teamID string) ([]TeamMember, error) {
	const query = `SELECT id, team_id, user_id, role FROM team_members WHERE team_id = $1`
	rows, err := s.db.QueryContext(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	defer rows.Close()

	var members []TeamMember
	for rows.Next() {
		var member TeamMember
		if err := rows.Scan(&member.ID, &member.TeamID, &member.UserID, &member.Role); err != nil {
			return nil, fmt.Errorf("scan team member: %w", err)
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

func (s *PostgresStore) TeamExists(ctx context.Context, teamID string) (bool, error) {
	return s.existsByID(ctx, `SELECT EXISTS (SELECT 1 FROM teams WHERE team_id = $1)`, teamID)
}

func (s *PostgresStore) UserExists(ctx context.Context, userID string) (bool, error) {
	return s.existsByID(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE user_id = $1)`, userID)
}

// One existence check per referenced entity type. Minimal projection only;
// callers never get a live row out of these.

func (s *PostgresStore) OrderExists(ctx context.Context, id string) (bool, error) {
	return s.existsByID(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id)
}

func (s *PostgresStore) CustomerExists(ctx context.Context, id string) (bool, error) {
	return s.existsByID(ctx, `SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1)`, id)
}

func (s *PostgresStore) ProductExists(ctx context.Context, id string) (bool, error) {
	return s.existsByID(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, id)
}

func (s *PostgresStore) QuotationExists(ctx context.Context, id string) (bool, error) {
	return s.existsByID(ctx, `SELECT EXISTS (SELECT 1 FROM quotations WHERE id = $1)`, id)
}

func (s *PostgresStore) InvoiceExists(ctx context.Context, id string) (bool, error) {
	return s.existsByID(ctx, `SELECT EXISTS (SELECT 1 FROM invoices WHERE id = $1)`, id)
}

func (s *PostgresStore) existsByID(ctx context.Context, query, id string) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("existence check: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) GetOrderByID(ctx context.Context, id string) (Order, error) {
	const query = `SELECT id, title, status, COALESCE(priority, ''), due_date, created_at FROM orders WHERE id = $1`
	var order Order
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&order.ID, &order.Title, &order.Status, &order.Priority, &order.DueDate, &order.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, sql.ErrNoRows
		}
		return Order{}, fmt.Errorf("lookup order %s: %w", id, err)
	}
	return order, nil
}

func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, id, status string) (Order, error) {
	const query = `UPDATE orders SET status = $2 WHERE id = $1`
	result, err := s.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return Order{}, fmt.Errorf("update order status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Order{}, fmt.Errorf("update order status: %w", err)
	}
	if affected == 0 {
		return Order{}, sql.ErrNoRows
	}
	return s.GetOrderByID(ctx, id)
}
