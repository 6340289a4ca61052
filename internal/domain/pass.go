package domain

import (
	"strings"
	"time"
)

// PassKind distinguishes Security-issued passes (full visitor details) from
// Host-issued passes (no company or vehicle).
type PassKind string

const (
	PassKindSecurity PassKind = "security"
	PassKindHost     PassKind = "host"
)

// IssuerRole is the partition in which the issuer of a pass of this kind
// is registered.
func (k PassKind) IssuerRole() (Role, bool) {
	switch k {
	case PassKindSecurity:
		return RoleSecurity, true
	case PassKindHost:
		return RoleHost, true
	}
	return "", false
}

// VisitorPass is one visit. CheckOutTime is nil while the pass is active and
// is set exactly once.
type VisitorPass struct {
	PassIdentifier    string     `json:"passIdentifier"`
	Kind              PassKind   `json:"kind"`
	VisitorNationalID string     `json:"nationalId"`
	VisitorName       string     `json:"name"`
	Company           string     `json:"company,omitempty"`
	VehicleNumber     string     `json:"vehicleNumber,omitempty"`
	Purpose           string     `json:"purpose"`
	CheckInTime       time.Time  `json:"checkInTime"`
	CheckOutTime      *time.Time `json:"checkOutTime,omitempty"`
	IssuedByUsername  string     `json:"issuedBy"`
	IssuedByRole      Role       `json:"issuedByRole"`
}

func (p *VisitorPass) Active() bool {
	return p.CheckOutTime == nil
}

// PublicPass is what the unauthenticated lookup returns.
type PublicPass struct {
	PassIdentifier    string     `json:"passIdentifier"`
	VisitorNationalID string     `json:"nationalId"`
	VisitorName       string     `json:"name"`
	Company           string     `json:"company,omitempty"`
	VehicleNumber     string     `json:"vehicleNumber,omitempty"`
	Purpose           string     `json:"purpose"`
	CheckInTime       time.Time  `json:"checkInTime"`
	CheckOutTime      *time.Time `json:"checkOutTime"`
}

func (p *VisitorPass) ToPublic() PublicPass {
	return PublicPass{
		PassIdentifier:    p.PassIdentifier,
		VisitorNationalID: p.VisitorNationalID,
		VisitorName:       p.VisitorName,
		Company:           p.Company,
		VehicleNumber:     p.VehicleNumber,
		Purpose:           p.Purpose,
		CheckInTime:       p.CheckInTime,
		CheckOutTime:      p.CheckOutTime,
	}
}

type IssuePassRequest struct {
	VisitorName   string `json:"name"`
	NationalID    string `json:"nationalId"`
	Company       string `json:"company"`
	VehicleNumber string `json:"vehicleNumber"`
	Purpose       string `json:"purpose"`
}

type IssuePassResponse struct {
	Message        string      `json:"message"`
	PassIdentifier string      `json:"passIdentifier"`
	Pass           VisitorPass `json:"pass"`
}

// IssuerContact is how a visitor reaches whoever issued their pass.
type IssuerContact struct {
	PassIdentifier string `json:"passIdentifier"`
	IssuerUsername string `json:"issuerUsername"`
	IssuerName     string `json:"issuerName"`
	IssuerRole     Role   `json:"issuerRole"`
	PhoneNumber    string `json:"phoneNumber"`
}

func (r *IssuePassRequest) Normalize(kind PassKind) {
	r.VisitorName = strings.TrimSpace(r.VisitorName)
	r.NationalID = strings.TrimSpace(r.NationalID)
	r.Purpose = strings.TrimSpace(r.Purpose)
	if kind == PassKindHost {
		r.Company = ""
		r.VehicleNumber = ""
		return
	}
	r.Company = strings.TrimSpace(r.Company)
	r.VehicleNumber = strings.ToUpper(strings.TrimSpace(r.VehicleNumber))
}

func (r *IssuePassRequest) Validate(kind PassKind) error {
	var missing []string
	if r.VisitorName == "" {
		missing = append(missing, "name")
	}
	if r.NationalID == "" {
		missing = append(missing, "nationalId")
	}
	if kind == PassKindSecurity {
		if r.Company == "" {
			missing = append(missing, "company")
		}
		if r.VehicleNumber == "" {
			missing = append(missing, "vehicleNumber")
		}
	}
	if r.Purpose == "" {
		missing = append(missing, "purpose")
	}
	if len(missing) > 0 {
		return ErrValidation("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}
