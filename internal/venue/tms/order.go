package tms

import (
	"encoding/json"

	"github.com/betbot/circuitbot/internal/session"
)

type orderBookExtension struct {
	OrderTypes             map[string]interface{} `json:"orderTypes"`
	DisclosedQuantity      int                    `json:"disclosedQuantity"`
	OrderValidity          map[string]interface{} `json:"orderValidity"`
	TriggerPrice           float64                `json:"triggerPrice"`
	OrderPrice             float64                `json:"orderPrice"`
	OrderQuantity          int                    `json:"orderQuantity"`
	RemainingOrderQuantity int                    `json:"remainingOrderQuantity"`
	MarketType             map[string]interface{} `json:"marketType"`
}

type orderSecurity struct {
	ID                         int64   `json:"id"`
	ExchangeSecurityID         int64   `json:"exchangeSecurityId"`
	MarketProtectionPercentage float64 `json:"marketProtectionPercentage"`
	Divisor                    int     `json:"divisor"`
	BoardLotQuantity           int     `json:"boardLotQuantity"`
	TickSize                   float64 `json:"tickSize"`
}

type orderBook struct {
	OrderBookExtensions []orderBookExtension   `json:"orderBookExtensions"`
	Exchange            map[string]interface{} `json:"exchange"`
	DNAConnection       map[string]interface{} `json:"dnaConnection"`
	Dealer              map[string]interface{} `json:"dealer"`
	Member              map[string]interface{} `json:"member"`
	ProductType         map[string]interface{} `json:"productType"`
	InstrumentType      map[string]interface{} `json:"instrumentType"`
	Security            orderSecurity          `json:"security"`
	AccountType         int                    `json:"accountType"`
	CPMemberID          int                    `json:"cpMemberId"`
	Client              json.RawMessage        `json:"client"`
	BuyOrSell           int                    `json:"buyOrSell"`
}

type orderBody struct {
	OrderBook       orderBook `json:"orderBook"`
	OrderPlacedBy   int       `json:"orderPlacedBy"`
	ExchangeOrderID *string   `json:"exchangeOrderId"`
}

// newOrderBody 构造 LMT / DAY / CNC / EQ 买单
func newOrderBody(sec session.Security, client json.RawMessage, price float64, qty int) orderBody {
	exchangeID := sec.ExchangeSecurityID
	if exchangeID == 0 {
		exchangeID = sec.ID
	}
	if len(client) == 0 {
		client = json.RawMessage("{}")
	}
	return orderBody{
		OrderBook: orderBook{
			OrderBookExtensions: []orderBookExtension{{
				OrderTypes:             map[string]interface{}{"id": 1, "orderTypeCode": "LMT"},
				OrderValidity:          map[string]interface{}{"id": 1, "orderValidityCode": "DAY"},
				OrderPrice:             price,
				OrderQuantity:          qty,
				RemainingOrderQuantity: qty,
				MarketType:             map[string]interface{}{"id": 2, "marketType": "Continuous"},
			}},
			Exchange:       map[string]interface{}{"id": 1},
			DNAConnection:  map[string]interface{}{},
			Dealer:         map[string]interface{}{},
			Member:         map[string]interface{}{},
			ProductType:    map[string]interface{}{"id": 1, "productCode": "CNC"},
			InstrumentType: map[string]interface{}{"id": 1, "code": "EQ"},
			Security: orderSecurity{
				ID:                 sec.ID,
				ExchangeSecurityID: exchangeID,
				Divisor:            100,
				BoardLotQuantity:   1,
				TickSize:           0.1,
			},
			AccountType: 1,
			Client:      client,
			BuyOrSell:   1,
		},
		OrderPlacedBy: 2,
	}
}
