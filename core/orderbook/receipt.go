package orderbook

import (
	"encoding/json"

	"github.com/nikolaydubina/fpdecimal"
)

// Receipt reports the outcome of one submission: the matches it produced
// and whatever remainder rests in the book. Monetary fields serialize as
// strings to survive clients that mangle JSON numbers.
type Receipt struct {
	OrderID    string
	BookID     string
	Trader     string
	Side       Side
	Matches    []*Match
	Resting    bool
	RestingQty int64
	Locked     fpdecimal.Decimal
	Released   fpdecimal.Decimal
}

// LastMatch returns the final fill of the submission, or nil when it
// rested without crossing.
func (r *Receipt) LastMatch() *Match {
	if len(r.Matches) == 0 {
		return nil
	}
	return r.Matches[len(r.Matches)-1]
}

func (r *Receipt) FilledQty() int64 {
	var qty int64
	for _, m := range r.Matches {
		qty += m.Qty
	}
	return qty
}

func (r *Receipt) MarshalJSON() ([]byte, error) {
	customStruct := struct {
		OrderID    string   `json:"orderID"`
		BookID     string   `json:"bookID"`
		Trader     string   `json:"trader"`
		Side       Side     `json:"side"`
		Matches    []*Match `json:"matches"`
		Resting    bool     `json:"resting"`
		RestingQty int64    `json:"restingQty"`
		Locked     string   `json:"locked"`
		Released   string   `json:"released"`
	}{
		OrderID:    r.OrderID,
		BookID:     r.BookID,
		Trader:     r.Trader,
		Side:       r.Side,
		Matches:    r.Matches,
		Resting:    r.Resting,
		RestingQty: r.RestingQty,
		Locked:     r.Locked.String(),
		Released:   r.Released.String(),
	}
	return json.Marshal(customStruct)
}

func (r *Receipt) UnmarshalJSON(data []byte) error {
	customStruct := struct {
		OrderID    string   `json:"orderID"`
		BookID     string   `json:"bookID"`
		Trader     string   `json:"trader"`
		Side       Side     `json:"side"`
		Matches    []*Match `json:"matches"`
		Resting    bool     `json:"resting"`
		RestingQty int64    `json:"restingQty"`
		Locked     string   `json:"locked"`
		Released   string   `json:"released"`
	}{}
	if err := json.Unmarshal(data, &customStruct); err != nil {
		return err
	}

	r.OrderID = customStruct.OrderID
	r.BookID = customStruct.BookID
	r.Trader = customStruct.Trader
	r.Side = customStruct.Side
	r.Matches = customStruct.Matches
	r.Resting = customStruct.Resting
	r.RestingQty = customStruct.RestingQty

	locked, err := fpdecimal.FromString(customStruct.Locked)
	if err != nil {
		return err
	}
	r.Locked = locked

	released, err := fpdecimal.FromString(customStruct.Released)
	if err != nil {
		return err
	}
	r.Released = released
	return nil
}
