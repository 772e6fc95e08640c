package dues

import "time"

// Operation names a settlement entry point.
type Operation string

const (
	OpSettleAll          Operation = "settle_all"
	OpSettleCurrentMonth Operation = "settle_current_month"
	OpSettleThroughMonth Operation = "settle_through_month"
	OpSettleMonth        Operation = "settle_month"
)

// Settlement reports the effect of a settlement operation.
type Settlement struct {
	Operation Operation
	// Applied is false only when a single-month settlement was refused because the
	// preceding month is unpaid. Bulk operations always apply.
	Applied bool
	// Settled lists the records that changed from unpaid to paid.
	Settled  []string
	DuesFrom time.Time
}

// SettleAllOutstanding marks every unpaid record as paid regardless of position.
// DuesFrom is left untouched.
func (l *Ledger) SettleAllOutstanding() Settlement {
	res := Settlement{Operation: OpSettleAll, Applied: true}
	for i := range l.months {
		if !l.months[i].Paid {
			l.months[i].Paid = true
			res.Settled = append(res.Settled, l.months[i].ID)
		}
	}
	res.DuesFrom = l.duesFrom
	return res
}

// SettleThroughCurrentMonth marks as paid every record ending on or before the end of
// now's calendar month.
func (l *Ledger) SettleThroughCurrentMonth(now time.Time) Settlement {
	res := l.settleThrough(now)
	res.Operation = OpSettleCurrentMonth
	return res
}

// SettleThroughMonth marks as paid every record ending on or before the end of target's
// calendar month.
func (l *Ledger) SettleThroughMonth(target time.Time) Settlement {
	res := l.settleThrough(target)
	res.Operation = OpSettleThroughMonth
	return res
}

func (l *Ledger) settleThrough(ref time.Time) Settlement {
	boundary := monthEnd(ref)
	res := Settlement{Applied: true}
	for i := range l.months {
		if l.months[i].EndDate.After(boundary) {
			continue
		}
		if !l.months[i].Paid {
			l.months[i].Paid = true
			res.Settled = append(res.Settled, l.months[i].ID)
		}
	}
	res.DuesFrom = l.duesFrom
	return res
}

// SettleMonth pays a single record. Months must be paid in order: the first record can
// always be paid, any later one only once its predecessor is paid. A refused payment
// leaves the ledger untouched and reports Applied=false.
func (l *Ledger) SettleMonth(id string) (Settlement, error) {
	idx := l.indexOf(id)
	if idx < 0 {
		return Settlement{}, ErrMonthNotFound
	}
	res := Settlement{Operation: OpSettleMonth}
	if idx > 0 && !l.months[idx-1].Paid {
		res.DuesFrom = l.duesFrom
		return res, nil
	}
	if !l.months[idx].Paid {
		l.months[idx].Paid = true
		res.Settled = []string{id}
	}
	l.duesFrom = nextMonthStart(l.months[idx].EndDate)
	res.Applied = true
	res.DuesFrom = l.duesFrom
	return res, nil
}

func (l *Ledger) indexOf(id string) int {
	for i := range l.months {
		if l.months[i].ID == id {
			return i
		}
	}
	return -1
}
