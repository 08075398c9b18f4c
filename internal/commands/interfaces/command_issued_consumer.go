package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	commandsapp "sensorfleet-cloud/internal/commands/application"
	commandsevents "sensorfleet-cloud/internal/commands/application/events"
	commands "sensorfleet-cloud/internal/commands/domain"
	"sensorfleet-cloud/internal/devicegw"
)

// CommandSender pushes a command to the field gateway.
type CommandSender interface {
	SendCommand(ctx context.Context, deviceID, name string, params json.RawMessage) (devicegw.CommandResponse, error)
}

// CommandIssuedConsumer delivers issued commands to the gateway and
// applies synchronous results.
type CommandIssuedConsumer struct {
	service *commandsapp.Service
	gateway CommandSender
	logger  zerolog.Logger
}

// NewCommandIssuedConsumer constructs a consumer.
func NewCommandIssuedConsumer(service *commandsapp.Service, gateway CommandSender, logger zerolog.Logger) (*CommandIssuedConsumer, error) {
	if service == nil || gateway == nil {
		return nil, errors.New("command consumer: nil dependency")
	}
	return &CommandIssuedConsumer{
		service: service,
		gateway: gateway,
		logger:  logger.With().Str("component", "command-dispatch").Logger(),
	}, nil
}

// HandleCommandIssued handles CommandIssued events.
func (c *CommandIssuedConsumer) HandleCommandIssued(ctx context.Context, event any) error {
	evt, ok := event.(commandsevents.CommandIssued)
	if !ok {
		if ptr, ok := event.(*commandsevents.CommandIssued); ok && ptr != nil {
			evt = *ptr
		} else {
			return nil
		}
	}

	now := time.Now().UTC()
	if err := c.service.MarkSent(ctx, evt.CommandID, now); err != nil {
		return err
	}

	resp, err := c.gateway.SendCommand(ctx, evt.DeviceID, evt.Name, evt.Params)
	if err != nil {
		_, resultErr := c.service.HandleResult(ctx, commandsapp.ResultRequest{
			CommandID: evt.CommandID,
			Status:    commands.StatusFailed,
			Error:     err.Error(),
		})
		return resultErr
	}

	switch resp.Status {
	case commands.StatusAcked:
		_, err := c.service.HandleResult(ctx, commandsapp.ResultRequest{
			CommandID: evt.CommandID,
			Status:    commands.StatusAcked,
		})
		return err
	case commands.StatusFailed:
		message := resp.Error
		if message == "" {
			message = "gateway rejected command"
		}
		_, err := c.service.HandleResult(ctx, commandsapp.ResultRequest{
			CommandID: evt.CommandID,
			Status:    commands.StatusFailed,
			Error:     message,
		})
		return err
	default:
		// The device confirms asynchronously through the result
		// callback; the timeout scanner covers the silent case.
		c.logger.Debug().
			Str("command_id", evt.CommandID).
			Str("status", resp.Status).
			Msg("command pending device confirmation")
		return nil
	}
}
