package domain

// ResourceKind names a class of patient data an actor may request.
type ResourceKind string

const (
	ResourcePrescriptions ResourceKind = "prescriptions"
	ResourceRecords       ResourceKind = "records"
	ResourceEmergency     ResourceKind = "emergency"
)

// Valid reports whether the resource kind is known.
func (k ResourceKind) Valid() bool {
	switch k {
	case ResourcePrescriptions, ResourceRecords, ResourceEmergency:
		return true
	}
	return false
}

// Permissions is the capability set attached to a relationship or family
// member: which resource kinds the grantee may access.
type Permissions struct {
	Prescriptions bool `json:"prescriptions"`
	Records       bool `json:"records"`
	Emergency     bool `json:"emergency"`
}

// DefaultRelationshipPermissions is what a freshly accepted connection
// grants a doctor.
func DefaultRelationshipPermissions() Permissions {
	return Permissions{Prescriptions: true, Records: true, Emergency: false}
}

// Allows reports whether the capability set covers the resource kind.
func (p Permissions) Allows(kind ResourceKind) bool {
	switch kind {
	case ResourcePrescriptions:
		return p.Prescriptions
	case ResourceRecords:
		return p.Records
	case ResourceEmergency:
		return p.Emergency
	}
	return false
}

// All reports whether every flag is set.
func (p Permissions) All() bool {
	return p.Prescriptions && p.Records && p.Emergency
}

// PermissionsPatch is a partial update; nil fields are left unchanged.
type PermissionsPatch struct {
	Prescriptions *bool `json:"prescriptions,omitempty"`
	Records       *bool `json:"records,omitempty"`
	Emergency     *bool `json:"emergency,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p PermissionsPatch) Empty() bool {
	return p.Prescriptions == nil && p.Records == nil && p.Emergency == nil
}

// Apply merges the patch into an existing capability set.
func (p PermissionsPatch) Apply(current Permissions) Permissions {
	if p.Prescriptions != nil {
		current.Prescriptions = *p.Prescriptions
	}
	if p.Records != nil {
		current.Records = *p.Records
	}
	if p.Emergency != nil {
		current.Emergency = *p.Emergency
	}
	return current
}
