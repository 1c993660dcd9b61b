package user

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/chuoapp/chuo/core"
)

var (
	rolesTag  = "roles"
	rolesText = "invalid roles"

	usernameOrEmailTag  = "username_or_email"
	usernameOrEmailText = "one of username or email is required"

	pwdMinLen       = 8
	pwdMaxSim       = .7
	specialRegex    = regexp.MustCompile("[^A-Za-z0-9]")
	commonPasswords []string // sorted; loaded from assets/common-passwords.txt.gz

	// password policy failures, keyed by translation tag
	pwdPolicyTexts = map[string]string{
		"pwdminlen":    fmt.Sprintf("password must contain at least %d characters", pwdMinLen),
		"pwdnospace":   "password must not contain whitespace",
		"pwdnotallnum": "password cannot be entirely numeric",
		"pwdcplx":      "password must contain at least 1 uppercase character, 1 lowercase character, 1 digit and 1 special character",
		"pwdtoosim":    "password cannot be similar to user attributes",
		"pwdnocommon":  "password is too common",
	}
)

func init() {
	commonPasswords = loadCommonPasswords()

	_ = core.Validate.RegisterValidation(rolesTag, rolesValidation)
	core.RegisterCustomTranslation(rolesTag, rolesText)

	core.Validate.RegisterStructValidation(userStructValidation, NewUser{})
	core.Validate.RegisterStructValidation(userStructValidation, UpdateUser{})
	core.RegisterCustomTranslation(usernameOrEmailTag, usernameOrEmailText)
	for tag, text := range pwdPolicyTexts {
		core.RegisterCustomTranslation(tag, text)
	}
}

func loadCommonPasswords() []string {
	path := filepath.Join(core.Conf.WorkDir, "assets", "common-passwords.txt.gz")
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close() //nolint:errcheck

	gz, err := gzip.NewReader(file)
	if err != nil {
		return nil
	}
	var pwds []string
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		pwds = append(pwds, strings.TrimSpace(scanner.Text()))
	}
	sort.Strings(pwds)
	return pwds
}

// rolesValidation checks that every provided role is a known one.
func rolesValidation(fl validator.FieldLevel) bool {
	roles, ok := fl.Field().Interface().([]string)
	if !ok {
		return false
	}
	for _, role := range roles {
		if !knownRole(role) {
			return false
		}
	}
	return true
}

func knownRole(role string) bool {
	for _, r := range AllRoles {
		if r == role {
			return true
		}
	}
	return false
}

// userStructValidation does struct level validation on NewUser and UpdateUser.
func userStructValidation(sl validator.StructLevel) {
	switch usr := sl.Current().Interface().(type) {
	case NewUser:
		if usr.Username == "" && usr.Email == "" {
			sl.ReportError(usr.Username, "username", "Username", usernameOrEmailTag, "")
			sl.ReportError(usr.Email, "email", "Email", usernameOrEmailTag, "")
		}
		if tag := checkPasswordPolicy(usr.Password, usr.Name, usr.Username, usr.Email); tag != "" {
			sl.ReportError(usr.Password, "password", "Password", tag, "")
		}
	case UpdateUser:
		if usr.Password == "" {
			return
		}
		if tag := checkPasswordPolicy(usr.Password, usr.Name, usr.Username, usr.Email); tag != "" {
			sl.ReportError(usr.Password, "password", "Password", tag, "")
		}
	}
}

// checkPasswordPolicy returns the translation tag of the first policy rule
// the password breaks, or "" when it passes all of them.
func checkPasswordPolicy(pwd, name, uname, email string) string {
	if len(pwd) < pwdMinLen {
		return "pwdminlen"
	}

	var digits, uppers, lowers int
	for _, char := range pwd {
		switch {
		case unicode.IsSpace(char):
			return "pwdnospace"
		case unicode.IsDigit(char):
			digits++
		case unicode.IsUpper(char):
			uppers++
		case unicode.IsLower(char):
			lowers++
		}
	}
	if digits == len(pwd) {
		return "pwdnotallnum"
	}
	if uppers == 0 || lowers == 0 || digits == 0 || !specialRegex.MatchString(pwd) {
		return "pwdcplx"
	}

	for _, attr := range []string{name, uname, email} {
		if attr == "" {
			continue
		}
		m := difflib.NewMatcher(strings.Split(pwd, ""), strings.Split(attr, ""))
		if m.QuickRatio() >= pwdMaxSim {
			return "pwdtoosim"
		}
	}

	lpwd := strings.ToLower(pwd)
	if idx := sort.SearchStrings(commonPasswords, lpwd); idx < len(commonPasswords) && commonPasswords[idx] == lpwd {
		return "pwdnocommon"
	}
	return ""
}
