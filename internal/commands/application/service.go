package application

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sensorfleet-cloud/internal/auth"
	commandsevents "sensorfleet-cloud/internal/commands/application/events"
	commands "sensorfleet-cloud/internal/commands/domain"
	commandsrepo "sensorfleet-cloud/internal/commands/infrastructure/postgres"
	"sensorfleet-cloud/internal/eventing"
	"sensorfleet-cloud/internal/observability/metrics"
)

// ErrNotFound indicates the command does not exist.
var ErrNotFound = errors.New("commands: not found")

// EventPublisher publishes command lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// DeviceChecker verifies a device exists before a command targets it.
type DeviceChecker interface {
	DeviceExists(ctx context.Context, deviceID string) (bool, error)
}

// IssueRequest represents a command issue request.
type IssueRequest struct {
	DeviceID       string          `json:"device_id"`
	Name           string          `json:"name"`
	Params         json.RawMessage `json:"params"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// ResultRequest is the gateway's completion callback payload.
type ResultRequest struct {
	CommandID string `json:"command_id"`
	Status    string `json:"status"`
	Error     string `json:"error"`
}

// CommandView is the serialized form of a command.
type CommandView struct {
	ID             string          `json:"id"`
	DeviceID       string          `json:"device_id"`
	Name           string          `json:"name"`
	Params         json.RawMessage `json:"params,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	IssuedBy       string          `json:"issued_by"`
	Status         string          `json:"status"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	SentAt         *time.Time      `json:"sent_at,omitempty"`
	AckedAt        *time.Time      `json:"acked_at,omitempty"`
}

// ViewOf converts a command into its serialized form.
func ViewOf(cmd *commands.Command) CommandView {
	view := CommandView{
		ID:             cmd.ID,
		DeviceID:       cmd.DeviceID,
		Name:           cmd.Name,
		Params:         cmd.Params,
		IdempotencyKey: cmd.IdempotencyKey,
		IssuedBy:       cmd.IssuedBy,
		Status:         cmd.Status,
		Error:          cmd.Error,
		CreatedAt:      cmd.CreatedAt,
	}
	if !cmd.SentAt.IsZero() {
		sentAt := cmd.SentAt
		view.SentAt = &sentAt
	}
	if !cmd.AckedAt.IsZero() {
		ackedAt := cmd.AckedAt
		view.AckedAt = &ackedAt
	}
	return view
}

// Service handles command issuance, completion and queries.
type Service struct {
	repo           *commandsrepo.CommandRepository
	publisher      EventPublisher
	devices        DeviceChecker
	logger         zerolog.Logger
	idempotencyTTL time.Duration
}

// NewService constructs a command service. The device checker is
// optional.
func NewService(repo *commandsrepo.CommandRepository, publisher EventPublisher, devices DeviceChecker, logger zerolog.Logger) (*Service, error) {
	if repo == nil {
		return nil, errors.New("commands: nil repo")
	}
	if publisher == nil {
		return nil, errors.New("commands: nil publisher")
	}
	return &Service{
		repo:           repo,
		publisher:      publisher,
		devices:        devices,
		logger:         logger.With().Str("component", "commands").Logger(),
		idempotencyTTL: 10 * time.Minute,
	}, nil
}

// IssueCommand creates a command and publishes CommandIssued. A repeat
// of the same idempotency key within the TTL returns the original
// command without issuing again.
func (s *Service) IssueCommand(ctx context.Context, req IssueRequest) (*commands.Command, error) {
	if err := validateIssue(req); err != nil {
		return nil, err
	}
	if s.devices != nil {
		known, err := s.devices.DeviceExists(ctx, req.DeviceID)
		if err != nil {
			return nil, err
		}
		if !known {
			return nil, ErrNotFound
		}
	}

	issuedBy := auth.UserIDFromContext(ctx)
	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = buildIdempotencyKey(req.DeviceID, req.Name, req.Params, issuedBy)
	}

	now := time.Now().UTC()
	existing, err := s.repo.FindByIdempotencyKey(ctx, idempotencyKey, now.Add(-s.idempotencyTTL))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	cmd := &commands.Command{
		ID:             "cmd-" + uuid.NewString(),
		DeviceID:       req.DeviceID,
		Name:           req.Name,
		Params:         req.Params,
		IdempotencyKey: idempotencyKey,
		IssuedBy:       issuedBy,
		Status:         commands.StatusCreated,
		CreatedAt:      now,
	}
	if err := s.repo.Create(ctx, cmd); err != nil {
		return nil, err
	}
	metrics.IncCommandIssued()

	eventID := eventing.NewEventID()
	event := commandsevents.CommandIssued{
		EventID:        eventID,
		CommandID:      cmd.ID,
		DeviceID:       cmd.DeviceID,
		Name:           cmd.Name,
		Params:         cmd.Params,
		IdempotencyKey: cmd.IdempotencyKey,
		IssuedBy:       cmd.IssuedBy,
		OccurredAt:     now,
	}
	ctx = eventing.WithEventID(ctx, eventID)
	ctx = eventing.WithDeviceID(ctx, cmd.DeviceID)
	if err := s.publisher.Publish(ctx, event); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("command_id", cmd.ID).
		Str("device_id", cmd.DeviceID).
		Str("name", cmd.Name).
		Msg("command issued")
	return cmd, nil
}

// HandleResult applies the gateway's completion callback. The first
// terminal status wins; a late result after a timeout is ignored.
func (s *Service) HandleResult(ctx context.Context, req ResultRequest) (*commands.Command, error) {
	if req.CommandID == "" {
		return nil, errors.New("commands: command_id required")
	}
	if req.Status != commands.StatusAcked && req.Status != commands.StatusFailed {
		return nil, errors.New("commands: result status must be acked or failed")
	}

	cmd, err := s.repo.GetByID(ctx, req.CommandID)
	if err != nil {
		return nil, err
	}
	if cmd == nil {
		return nil, ErrNotFound
	}
	if commands.Terminal(cmd.Status) {
		return cmd, nil
	}

	now := time.Now().UTC()
	if req.Status == commands.StatusAcked {
		if err := s.repo.MarkAcked(ctx, cmd.ID, now); err != nil {
			return nil, err
		}
		cmd.Status = commands.StatusAcked
		cmd.AckedAt = now
		metrics.IncCommandResult(metrics.CommandResultAcked)
	} else {
		message := req.Error
		if message == "" {
			message = "device reported failure"
		}
		if err := s.repo.MarkFailed(ctx, cmd.ID, message); err != nil {
			return nil, err
		}
		cmd.Status = commands.StatusFailed
		cmd.Error = message
		metrics.IncCommandResult(metrics.CommandResultFailed)
	}

	s.publishCompleted(ctx, cmd, now)
	return cmd, nil
}

// MarkSent records that a command was handed to the gateway.
func (s *Service) MarkSent(ctx context.Context, id string, at time.Time) error {
	return s.repo.MarkSent(ctx, id, at)
}

// GetCommand loads one command.
func (s *Service) GetCommand(ctx context.Context, id string) (*commands.Command, error) {
	cmd, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cmd == nil {
		return nil, ErrNotFound
	}
	return cmd, nil
}

// ListCommands returns commands for a device in a time range.
func (s *Service) ListCommands(ctx context.Context, deviceID string, from, to time.Time) ([]commands.Command, error) {
	if deviceID == "" {
		return nil, errors.New("commands: device_id required")
	}
	return s.repo.ListByDeviceAndTime(ctx, deviceID, from.UTC(), to.UTC())
}

// MarkTimeouts marks overdue sent commands as timed out and publishes
// their completion.
func (s *Service) MarkTimeouts(ctx context.Context, before time.Time) (int, error) {
	timedOut, err := s.repo.MarkTimeoutBefore(ctx, before)
	if err != nil {
		return 0, err
	}
	metrics.AddCommandTimeouts(len(timedOut))
	now := time.Now().UTC()
	for i := range timedOut {
		s.publishCompleted(ctx, &timedOut[i], now)
	}
	return len(timedOut), nil
}

func (s *Service) publishCompleted(ctx context.Context, cmd *commands.Command, at time.Time) {
	eventID := eventing.NewEventID()
	event := commandsevents.CommandCompleted{
		EventID:    eventID,
		CommandID:  cmd.ID,
		DeviceID:   cmd.DeviceID,
		Name:       cmd.Name,
		IssuedBy:   cmd.IssuedBy,
		Status:     cmd.Status,
		Error:      cmd.Error,
		OccurredAt: at,
	}
	ctx = eventing.WithEventID(ctx, eventID)
	ctx = eventing.WithDeviceID(ctx, cmd.DeviceID)
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).
			Str("command_id", cmd.ID).
			Msg("command completion publish failed")
	}
}

func validateIssue(req IssueRequest) error {
	if req.DeviceID == "" {
		return errors.New("commands: device_id required")
	}
	if req.Name == "" {
		return errors.New("commands: name required")
	}
	if len(req.Params) > 0 && !json.Valid(req.Params) {
		return errors.New("commands: invalid params")
	}
	return nil
}

func buildIdempotencyKey(deviceID, name string, params json.RawMessage, issuedBy string) string {
	hash := sha1.Sum([]byte(deviceID + "|" + name + "|" + string(params) + "|" + issuedBy))
	return hex.EncodeToString(hash[:])
}
