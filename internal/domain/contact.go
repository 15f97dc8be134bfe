package domain

import (
	"fmt"
	"strings"
)

// Contact is the custodian address of record for a subject.
type Contact struct {
	SubjectID   string
	SubjectName string
	CustodianID string
	PhoneNumber string
}

func (c *Contact) Validate() error {
	if strings.TrimSpace(c.SubjectID) == "" {
		return fmt.Errorf("%w: subjectId is required", ErrValidation)
	}
	if strings.TrimSpace(c.PhoneNumber) == "" {
		return fmt.Errorf("%w: custodian phone number is missing for subject %s", ErrValidation, c.SubjectID)
	}
	return nil
}
