package validation

import (
	"fmt"
	"regexp"

	"github.com/iudanet/fieldsync/internal/models"
)

// DatePattern определяет допустимый формат календарной даты (YYYY-MM-DD)
var DatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ValidateOperation проверяет операцию перед submission.
// Ошибки валидации терминальны: такие операции отклоняются локально
// и никогда не попадают в очередь повторов.
func ValidateOperation(op *models.Operation) error {
	if op == nil {
		return fmt.Errorf("operation cannot be nil")
	}
	if op.ID == "" {
		return fmt.Errorf("operation id cannot be empty")
	}
	if op.DeviceID == "" {
		return fmt.Errorf("operation device id cannot be empty")
	}
	if op.Sequence < 0 {
		return fmt.Errorf("operation sequence must be non-negative, got %d", op.Sequence)
	}
	if op.Timestamp.IsZero() {
		return fmt.Errorf("operation timestamp cannot be zero")
	}

	payload, err := op.DecodePayload()
	if err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	return validatePayload(payload)
}

// validatePayload проверяет инварианты конкретного типа payload.
// Switch исчерпывающий: DecodePayload уже отсеял неизвестные теги.
func validatePayload(payload any) error {
	switch p := payload.(type) {
	case *models.CompletionCreatePayload:
		if err := validateCompletionKey(p.Index, p.ListVersion); err != nil {
			return err
		}
		if p.Outcome == "" {
			return fmt.Errorf("completion outcome cannot be empty")
		}
		if p.AmountPence < 0 {
			return fmt.Errorf("completion amount cannot be negative")
		}
		if p.TimeSpentSeconds < 0 {
			return fmt.Errorf("completion time spent cannot be negative")
		}

	case *models.CompletionUpdatePayload:
		if err := validateCompletionKey(p.Index, p.ListVersion); err != nil {
			return err
		}
		if p.Outcome == "" {
			return fmt.Errorf("completion outcome cannot be empty")
		}
		if p.AmountPence < 0 {
			return fmt.Errorf("completion amount cannot be negative")
		}

	case *models.CompletionDeletePayload:
		return validateCompletionKey(p.Index, p.ListVersion)

	case *models.AddressAddPayload:
		if p.Address.Address == "" {
			return fmt.Errorf("address cannot be empty")
		}

	case *models.AddressBulkImportPayload:
		if len(p.Addresses) == 0 {
			return fmt.Errorf("bulk import requires at least one address")
		}
		for i, addr := range p.Addresses {
			if addr.Address == "" {
				return fmt.Errorf("bulk import address %d cannot be empty", i)
			}
		}

	case *models.ActiveIndexSetPayload:
		if p.Index != nil && *p.Index < 0 {
			return fmt.Errorf("active index must be non-negative, got %d", *p.Index)
		}

	case *models.ArrangementCreatePayload:
		return validateArrangement(&p.Arrangement)

	case *models.ArrangementUpdatePayload:
		if p.Arrangement.ID == "" {
			return fmt.Errorf("arrangement id cannot be empty")
		}
		return validateArrangement(&p.Arrangement)

	case *models.ArrangementDeletePayload:
		if p.ID == "" {
			return fmt.Errorf("arrangement id cannot be empty")
		}

	case *models.SessionStartPayload:
		if err := validateDate(p.Date); err != nil {
			return err
		}
		if p.Start.IsZero() {
			return fmt.Errorf("session start time cannot be zero")
		}

	case *models.SessionEndPayload:
		if err := validateDate(p.Date); err != nil {
			return err
		}
		if p.End.IsZero() {
			return fmt.Errorf("session end time cannot be zero")
		}

	case *models.SessionUpdatePayload:
		return validateDate(p.Date)

	case *models.SettingsUpdateBonusPayload:
		if p.Bonus.RatePerCompletionPence < 0 {
			return fmt.Errorf("bonus rate cannot be negative")
		}
		if p.Bonus.DailyThreshold < 0 {
			return fmt.Errorf("bonus threshold cannot be negative")
		}

	case *models.SettingsUpdateReminderPayload:
		if p.Reminder.DaysBefore < 0 {
			return fmt.Errorf("reminder days cannot be negative")
		}

	default:
		return fmt.Errorf("unexpected payload type %T", payload)
	}

	return nil
}

func validateCompletionKey(index, listVersion int) error {
	if index < 0 {
		return fmt.Errorf("completion index must be non-negative, got %d", index)
	}
	if listVersion < 0 {
		return fmt.Errorf("completion list version must be non-negative, got %d", listVersion)
	}
	return nil
}

func validateArrangement(a *models.Arrangement) error {
	if a.CustomerName == "" {
		return fmt.Errorf("arrangement customer name cannot be empty")
	}
	if a.AmountPence < 0 {
		return fmt.Errorf("arrangement amount cannot be negative")
	}
	if a.ScheduledDate != "" {
		return validateDate(a.ScheduledDate)
	}
	return nil
}

func validateDate(date string) error {
	if date == "" {
		return fmt.Errorf("date cannot be empty")
	}
	if !DatePattern.MatchString(date) {
		return fmt.Errorf("date must be in YYYY-MM-DD format, got %q", date)
	}
	return nil
}
