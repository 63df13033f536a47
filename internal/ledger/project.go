package ledger

import (
	"regexp"

	"github.com/dmitrijs2005/codetime/internal/common"
)

const maxProjectNameLen = 100

var projectNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateProjectName accepts 1 to 100 characters of letters, digits,
// '.', '_' and '-'.
func ValidateProjectName(name string) error {
	if len(name) < 1 || len(name) > maxProjectNameLen || !projectNamePattern.MatchString(name) {
		return common.NewError(common.CodeInvalidPayload, "invalid projectName")
	}
	return nil
}
