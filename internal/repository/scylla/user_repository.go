package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"kyc-service/internal/kyc"
	"kyc-service/internal/models"
	"kyc-service/internal/util"
)

// UserRepository holds the per-user verification flag that downstream
// services read to gate account capabilities.
type UserRepository interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	UpsertUser(ctx context.Context, user *models.User) error
	UpdateVerificationFlag(ctx context.Context, userID string, flag kyc.UserFlag) error
}

type userRepository struct {
	client *ScyllaClient
	logger *zap.Logger
}

func NewUserRepository(client *ScyllaClient, logger *zap.Logger) UserRepository {
	return &userRepository{
		client: client,
		logger: logger,
	}
}

const (
	selectUserStmt = `SELECT user_id, email, kyc_verification, updated_at FROM kyc_users WHERE user_id = ?`

	upsertUserStmt = `INSERT INTO kyc_users (user_id, email, kyc_verification, updated_at) VALUES (?, ?, ?, ?)`

	updateUserFlagStmt = `UPDATE kyc_users SET kyc_verification = ?, updated_at = ? WHERE user_id = ?`
)

func (r *userRepository) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	var flag string

	err := r.client.Session.Query(selectUserStmt, userID).WithContext(ctx).
		Scan(&user.UserID, &user.Email, &flag, &user.UpdatedAt)
	if err == gocql.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}

	user.KYCVerification = kyc.UserFlag(flag)
	return &user, nil
}

func (r *userRepository) UpsertUser(ctx context.Context, user *models.User) error {
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = time.Now().UTC()
	}
	err := r.client.Session.Query(upsertUserStmt,
		user.UserID, user.Email, string(user.KYCVerification), user.UpdatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", user.UserID, err)
	}
	return nil
}

func (r *userRepository) UpdateVerificationFlag(ctx context.Context, userID string, flag kyc.UserFlag) error {
	err := r.client.Session.Query(updateUserFlagStmt,
		string(flag), time.Now().UTC(), userID,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to update verification flag for user %s: %w", userID, err)
	}

	r.logger.Info("user verification flag updated",
		util.String("user_id", userID),
		util.String("flag", string(flag)),
	)
	return nil
}
