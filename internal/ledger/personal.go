package ledger

import (
	"conti/internal/core"

	"github.com/shopspring/decimal"
)

// PersonalBalance breaks down one member's net position for display.
// Positive components mean the member owes, negative that they are owed.
type PersonalBalance struct {
	MemberID string
	Rent     decimal.Decimal
	Fixed    decimal.Decimal
	Variable decimal.Decimal
	Total    decimal.Decimal
}

// PersonalInput is everything the calculator reads. It is re-derived on
// every call and never cached.
type PersonalInput struct {
	Rent    core.RentTerms
	Members []string
	Fixed   []core.ChargeInstance
	Debts   []core.DebtEntry
}

// Personal computes memberID's rent, fixed and variable components.
//
// The rent payer's rent component is minus the sum of everybody else's net
// rent, which in a two-member household is −netRent of the other member.
func Personal(memberID string, in PersonalInput) (PersonalBalance, error) {
	pb := PersonalBalance{MemberID: memberID}

	netRent, err := NetRent(in.Rent, in.Members)
	if err != nil {
		return pb, err
	}
	if memberID == in.Rent.Payer {
		for _, amount := range netRent {
			pb.Rent = pb.Rent.Sub(amount)
		}
	} else {
		pb.Rent = netRent[memberID]
	}

	fixed := NewMatrix()
	if err := AddCharges(fixed, in.Fixed); err != nil {
		return pb, err
	}
	pb.Fixed = fixed.NetPositions(in.Members)[memberID].Neg()

	for _, d := range in.Debts {
		switch memberID {
		case d.Debtor:
			pb.Variable = pb.Variable.Add(d.Amount.Decimal())
		case d.Creditor:
			pb.Variable = pb.Variable.Sub(d.Amount.Decimal())
		}
	}

	pb.Total = pb.Rent.Add(pb.Fixed).Add(pb.Variable)
	return pb, nil
}

// Rounded returns the balance with every component rounded to cents.
func (pb PersonalBalance) Rounded() PersonalBalance {
	return PersonalBalance{
		MemberID: pb.MemberID,
		Rent:     pb.Rent.Round(2),
		Fixed:    pb.Fixed.Round(2),
		Variable: pb.Variable.Round(2),
		Total:    pb.Total.Round(2),
	}
}

// Owes reports whether the member owes money overall.
func (pb PersonalBalance) Owes() bool {
	return pb.Total.GreaterThan(Epsilon)
}

// Settled reports whether the member's total is within rounding dust.
func (pb PersonalBalance) Settled() bool {
	return pb.Total.Abs().LessThanOrEqual(Epsilon)
}

// Status is a short label for the member's position.
func (pb PersonalBalance) Status() string {
	switch {
	case pb.Settled():
		return "settled"
	case pb.Owes():
		return "owes"
	default:
		return "owed"
	}
}
