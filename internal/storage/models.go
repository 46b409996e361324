package storage

// Row types mirror the tables in migrations/. JSON columns and timestamps
// are kept as text and decoded in the repository.

type Member struct {
	HouseholdID string
	ID          string
	Name        string
}

type ChargeInstance struct {
	ID             string
	HouseholdID    string
	Kind           string
	Description    string
	AmountCents    int64
	Payer          string
	Beneficiaries  string
	OccurredAt     string
	RecordedAt     string
	MonthKey       string
	Category       string
	TemplateID     string
	Regularization bool
}

type RecurringTemplate struct {
	ID          string
	HouseholdID string
	Description string
	AmountCents int64
	Payer       string
	TriggerDay  int64
	Category    string
}

type MonthlyAccount struct {
	HouseholdID      string
	MonthKey         string
	Status           string
	RentTotalCents   int64
	RentPayer        string
	HousingAllowance string
	SettlementDebts  string
	FixedSnapshot    string
	CreatedAt        string
	FinalizedAt      string
}
