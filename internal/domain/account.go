package domain

import (
	"regexp"
	"strings"
	"time"
)

// Account is a credential record in one role partition.
type Account struct {
	Username      string
	Role          Role
	PasswordHash  string
	Name          string
	Email         string
	PhoneNumber   string
	NationalID    string
	Company       string
	VehicleNumber string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AccountInfo is the outward view of an Account (no password hash).
type AccountInfo struct {
	Username      string    `json:"username"`
	Role          Role      `json:"role"`
	Name          string    `json:"name"`
	Email         string    `json:"email,omitempty"`
	PhoneNumber   string    `json:"phoneNumber,omitempty"`
	NationalID    string    `json:"nationalId,omitempty"`
	Company       string    `json:"company,omitempty"`
	VehicleNumber string    `json:"vehicleNumber,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (a *Account) ToInfo() AccountInfo {
	return AccountInfo{
		Username:      a.Username,
		Role:          a.Role,
		Name:          a.Name,
		Email:         a.Email,
		PhoneNumber:   a.PhoneNumber,
		NationalID:    a.NationalID,
		Company:       a.Company,
		VehicleNumber: a.VehicleNumber,
		CreatedAt:     a.CreatedAt,
	}
}

type RegisterRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	PhoneNumber   string `json:"phoneNumber"`
	NationalID    string `json:"nationalId"`
	Company       string `json:"company"`
	VehicleNumber string `json:"vehicleNumber"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	// Role optionally restricts the lookup to a single partition.
	Role string `json:"role,omitempty"`
}

type LoginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	ExpiresIn int64       `json:"expiresIn"`
	Account   AccountInfo `json:"account"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// DeleteAccountRequest identifies an account by username or national id
// within one partition.
type DeleteAccountRequest struct {
	Role       Role
	Username   string
	NationalID string
}

type requiredField struct {
	name string
	get  func(*RegisterRequest) string
}

var (
	fieldUsername = requiredField{"username", func(r *RegisterRequest) string { return r.Username }}
	fieldName     = requiredField{"name", func(r *RegisterRequest) string { return r.Name }}
	fieldEmail    = requiredField{"email", func(r *RegisterRequest) string { return r.Email }}
	fieldPhone    = requiredField{"phoneNumber", func(r *RegisterRequest) string { return r.PhoneNumber }}
	fieldNational = requiredField{"nationalId", func(r *RegisterRequest) string { return r.NationalID }}
)

var requiredByRole = map[Role][]requiredField{
	RoleAdmin:    {fieldUsername, fieldName, fieldEmail, fieldPhone},
	RoleSecurity: {fieldUsername, fieldName, fieldEmail, fieldPhone, fieldNational},
	RoleHost:     {fieldUsername, fieldName, fieldEmail, fieldPhone, fieldNational},
	RoleVisitor:  {fieldUsername, fieldName, fieldPhone, fieldNational},
}

var (
	emailRegex    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phoneRegex    = regexp.MustCompile(`^[\+]?[\d\s\-\(\)]+$`)
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)
)

func (r *RegisterRequest) Normalize() {
	r.Username = strings.TrimSpace(r.Username)
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.PhoneNumber = strings.TrimSpace(r.PhoneNumber)
	r.NationalID = strings.TrimSpace(r.NationalID)
	r.Company = strings.TrimSpace(r.Company)
	r.VehicleNumber = strings.ToUpper(strings.TrimSpace(r.VehicleNumber))
}

// Validate checks the fields required for role and the password rules.
// Call Normalize first.
func (r *RegisterRequest) Validate(role Role) error {
	fields, ok := requiredByRole[role]
	if !ok {
		return ErrValidation("invalid role")
	}
	var missing []string
	for _, f := range fields {
		if f.get(r) == "" {
			missing = append(missing, f.name)
		}
	}
	if r.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return ErrValidation("missing required fields: %s", strings.Join(missing, ", "))
	}
	if !usernameRegex.MatchString(r.Username) {
		return ErrValidation("username may only contain letters, digits, '.', '_' and '-'")
	}
	if r.Email != "" && !emailRegex.MatchString(r.Email) {
		return ErrValidation("invalid email format")
	}
	if r.PhoneNumber != "" && !isValidPhone(r.PhoneNumber) {
		return ErrValidation("invalid phone format")
	}
	return CheckPassword(r.Password)
}

func (r *LoginRequest) Normalize() {
	r.Username = strings.TrimSpace(r.Username)
	r.Role = strings.TrimSpace(r.Role)
}

func (r *LoginRequest) Validate() error {
	if r.Username == "" || r.Password == "" {
		return ErrValidation("username and password are required")
	}
	if r.Role != "" {
		if _, ok := ParseRole(r.Role); !ok {
			return ErrValidation("invalid role")
		}
	}
	return nil
}

func (r *ChangePasswordRequest) Validate() error {
	if r.CurrentPassword == "" || r.NewPassword == "" {
		return ErrValidation("currentPassword and newPassword are required")
	}
	if r.CurrentPassword == r.NewPassword {
		return ErrValidation("new password must differ from the current one")
	}
	return CheckPassword(r.NewPassword)
}

func (r *DeleteAccountRequest) Validate() error {
	r.Username = strings.TrimSpace(r.Username)
	r.NationalID = strings.TrimSpace(r.NationalID)
	if r.Username == "" && r.NationalID == "" {
		return ErrValidation("username or nationalId is required")
	}
	return nil
}

func isValidPhone(phone string) bool {
	return phoneRegex.MatchString(phone) && len(phone) >= 7
}
