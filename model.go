package realtime

import (
	"time"
)

// wire values follow the platform contract exactly

type AttributeType = string

const (
	AttributeTypeString   AttributeType = "STRING"
	AttributeTypeInteger  AttributeType = "ENTERO"
	AttributeTypeDecimal  AttributeType = "DECIMAL"
	AttributeTypeBoolean  AttributeType = "BOOLEANO"
	AttributeTypeDate     AttributeType = "FECHA"
	AttributeTypeDatetime AttributeType = "FECHA_HORA"
	AttributeTypeUuid     AttributeType = "UUID"
	AttributeTypeText     AttributeType = "TEXTO"
)

type Multiplicity = string

const (
	MultiplicityOne        Multiplicity = "UNO"
	MultiplicityZeroOrOne  Multiplicity = "CERO_O_UNO"
	MultiplicityOneOrMany  Multiplicity = "UNO_O_MAS"
	MultiplicityZeroOrMany Multiplicity = "CERO_O_MAS"
)

type RelationKind = string

const (
	RelationKindAssociation    RelationKind = "ASSOCIATION"
	RelationKindAggregation    RelationKind = "AGGREGATION"
	RelationKindComposition    RelationKind = "COMPOSITION"
	RelationKindGeneralization RelationKind = "GENERALIZATION"
	RelationKindRealization    RelationKind = "REALIZATION"
	RelationKindDependency     RelationKind = "DEPENDENCY"
	RelationKindLink           RelationKind = "LINK"
)

type ConstraintConfig struct {
	LengthMin *int     `json:"lengthMin,omitempty"`
	LengthMax *int     `json:"lengthMax,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Pattern   *string  `json:"pattern,omitempty"`
	Scale     *int     `json:"scale,omitempty"`
	Precision *int     `json:"precision,omitempty"`
}

type DomainAttribute struct {
	AttributeId Id                `json:"id"`
	ClassId     Id                `json:"classId"`
	Name        string            `json:"name"`
	Type        AttributeType     `json:"type"`
	Required    bool              `json:"required"`
	Config      *ConstraintConfig `json:"config"`
	CreatedTime time.Time         `json:"createdAt"`
	UpdatedTime time.Time         `json:"updatedAt"`
}

// identity attributes must all belong to the owning class.
// the server enforces this; the client stores whatever it confirms.
type DomainIdentity struct {
	IdentityId   Id        `json:"id"`
	ClassId      Id        `json:"classId"`
	Name         string    `json:"name"`
	Description  *string   `json:"description"`
	AttributeIds []Id      `json:"attributeIds"`
	CreatedTime  time.Time `json:"createdAt"`
	UpdatedTime  time.Time `json:"updatedAt"`
}

type DomainClass struct {
	ClassId     Id                 `json:"id"`
	ProjectId   Id                 `json:"projectId"`
	Name        string             `json:"name"`
	Description *string            `json:"description"`
	Attributes  []*DomainAttribute `json:"attributes"`
	Identities  []*DomainIdentity  `json:"identities"`
	CreatedTime time.Time          `json:"createdAt"`
	UpdatedTime time.Time          `json:"updatedAt"`
}

type DomainRelation struct {
	RelationId         Id           `json:"id"`
	ProjectId          Id           `json:"projectId"`
	Name               *string      `json:"name"`
	SourceClassId      Id           `json:"sourceClassId"`
	TargetClassId      Id           `json:"targetClassId"`
	SourceRole         *string      `json:"sourceRole"`
	TargetRole         *string      `json:"targetRole"`
	SourceMultiplicity Multiplicity `json:"sourceMultiplicity"`
	TargetMultiplicity Multiplicity `json:"targetMultiplicity"`
	Kind               RelationKind `json:"type"`
	CreatedTime        time.Time    `json:"createdAt"`
	UpdatedTime        time.Time    `json:"updatedAt"`
}

// the full in-memory copy of a project model held by one client.
// a relation may reference a class that has not arrived yet; the snapshot
// stores it as-is and leaves degradation to the rendering layer.
type ModelSnapshot struct {
	Classes   []*DomainClass    `json:"classes"`
	Relations []*DomainRelation `json:"relations"`
}
