package db

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type User struct {
	ID        int64
	Email     string
	FirstName pgtype.Text
	LastName  pgtype.Text
	CreatedAt pgtype.Timestamptz
}

type Build struct {
	ID                       int64
	UserID                   int64
	Name                     pgtype.Text
	UseType                  pgtype.Text
	FuelType                 pgtype.Text
	TargetHp                 pgtype.Float8
	TargetTorque             pgtype.Float8
	RevLimitRpm              pgtype.Int4
	DisplacementCi           pgtype.Float8
	BoreIn                   pgtype.Float8
	StrokeIn                 pgtype.Float8
	RodLenIn                 pgtype.Float8
	StaticCr                 pgtype.Float8
	CamshaftModel            pgtype.Text
	FiringOrder              pgtype.Text
	Notes                    pgtype.Text
	EngineInternalsJson      []byte
	SuspensionJson           []byte
	TiresWheelsJson          []byte
	RearDifferentialJson     []byte
	TransmissionJson         []byte
	FrameJson                []byte
	CabInteriorJson          []byte
	BrakesJson               []byte
	AdditionalComponentsJson []byte
	CreatedAt                pgtype.Timestamptz
	UpdatedAt                pgtype.Timestamptz
}

type BuildMaintenance struct {
	ID              int64
	BuildID         int64
	MaintenanceType string
	OccurredAt      pgtype.Timestamptz
	Notes           pgtype.Text
	OdometerMiles   pgtype.Float8
	EngineHours     pgtype.Float8
	Brand           pgtype.Text
	PartNumber      pgtype.Text
	Quantity        pgtype.Int4
	Cost            pgtype.Float8
	CreatedAt       pgtype.Timestamptz
}

type BuildJsonSnapshot struct {
	ID                       int64
	BuildID                  int64
	MaintenanceID            pgtype.Int8
	SnapshotType             string
	ChangeDescription        pgtype.Text
	UserID                   pgtype.Int8
	EngineInternalsJson      []byte
	SuspensionJson           []byte
	TiresWheelsJson          []byte
	RearDifferentialJson     []byte
	TransmissionJson         []byte
	FrameJson                []byte
	CabInteriorJson          []byte
	BrakesJson               []byte
	AdditionalComponentsJson []byte
	CreatedAt                pgtype.Timestamptz
}

type BuildChangeEvent struct {
	ID                int64
	BuildID           int64
	UserID            int64
	OccurredAt        pgtype.Timestamptz
	FieldPath         string
	OldValue          pgtype.Text
	NewValue          pgtype.Text
	ChangeBatchID     pgtype.UUID
	ChangeDescription pgtype.Text
	IpAddress         pgtype.Text
	UserAgent         pgtype.Text
}
