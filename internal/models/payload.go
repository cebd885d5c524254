package models

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// AccountsList is the data of an accountsList query.
type AccountsList struct {
	Me *struct {
		ID        Text              `json:"id"`
		Contracts []ContractSummary `json:"contracts"`
	} `json:"me"`
}

// ContractSummary is one contract of the accounts list.
type ContractSummary struct {
	LiveBalance  *LiveBalance `json:"liveBalance"`
	Number       Text         `json:"number"`
	Alias        Text         `json:"alias"`
	Address      Text         `json:"address"`
	Filial       Filial       `json:"filial"`
	ContractData struct {
		Number  Text `json:"number"`
		Devices []struct {
			ID Text `json:"ID"`
		} `json:"Devices"`
	} `json:"contractData"`
}

// DeviceIDs returns the device IDs listed for the contract.
func (s ContractSummary) DeviceIDs() []string {
	ids := make([]string, 0, len(s.ContractData.Devices))
	for _, d := range s.ContractData.Devices {
		ids = append(ids, string(d.ID))
	}
	return ids
}

// MessageData is one notice the portal shows on the account page.
type MessageData struct {
	ID     Text `json:"id"`
	Level  Text `json:"level"`
	Sticky Text `json:"sticky"`
	Tag    Text `json:"tag"`
	Body   Text `json:"text"`
	Type   Text `json:"type"`
}

// IsSticky reports whether the notice stays until dismissed.
func (m MessageData) IsSticky() bool { return m.Sticky == "true" }

// MessagesResponse is the data of a messagesCount query.
type MessagesResponse struct {
	Messages []MessageData `json:"messages"`
}

// InitialDataResponse is the data of an initialData query.
type InitialDataResponse struct {
	Me *struct {
		ID        Text `json:"id"`
		Name      Text `json:"name"`
		Contracts []struct {
			Number Text `json:"number"`
		} `json:"contracts"`
	} `json:"me"`
	Metadata struct {
		SupportPhone Text `json:"supportPhone"`
		Newcomer     Text `json:"newcomer"`
	} `json:"metadata"`
	Messages []MessageData `json:"messages"`
}

// ContractDevicesResponse is the data of a contractDevices query.
type ContractDevicesResponse struct {
	Me *struct {
		Contract *ContractData `json:"contract"`
	} `json:"me"`
}

// Filial is the regional department serving a contract.
type Filial struct {
	ID    Text `json:"id"`
	Title Text `json:"title"`
}

// LiveBalance is the current account balance.
type LiveBalance struct {
	Number      Text   `json:"number"`
	LiveBalance Number `json:"liveBalance"`
}

// ContractData is the full detail payload of one contract.
type ContractData struct {
	LiveBalance             *LiveBalance    `json:"liveBalance"`
	CalculationsAndPayments json.RawMessage `json:"calculationsAndPayments"`
	Number                  Text            `json:"number"`
	Name                    Text            `json:"name"`
	Alias                   Text            `json:"alias"`
	Address                 Text            `json:"address"`
	Filial                  Filial          `json:"filial"`
	ContractData            struct {
		Number  Text         `json:"number"`
		Devices []DeviceData `json:"Devices"`
	} `json:"contractData"`
	MetersHistory struct {
		Number Text               `json:"number"`
		Data   []MeterHistoryData `json:"data"`
	} `json:"metersHistory"`
}

// Devices returns the raw device list.
func (c *ContractData) Devices() []DeviceData {
	return c.ContractData.Devices
}

// HistoryFor returns the readings listed for a meter and whether the meter was listed.
func (c *ContractData) HistoryFor(deviceID string) ([]HistoryEntryData, bool) {
	for _, pair := range c.MetersHistory.Data {
		if string(pair.Info.ID) == deviceID {
			return pair.Values, true
		}
	}
	return nil, false
}

// InvoiceGroups decodes calculationsAndPayments into group → "MM.YYYY" → invoice.
// Groups the portal encodes as empty arrays or null are returned empty.
func (c *ContractData) InvoiceGroups() (map[InvoiceGroup]map[string]InvoiceData, error) {
	result := make(map[InvoiceGroup]map[string]InvoiceData)
	if !isObject(c.CalculationsAndPayments) {
		return result, nil
	}

	var groups map[string]json.RawMessage
	if err := json.Unmarshal(c.CalculationsAndPayments, &groups); err != nil {
		return nil, fmt.Errorf("failed to decode calculations: %w", err)
	}

	for name, raw := range groups {
		group := InvoiceGroup(name)
		if !group.Known() || !isObject(raw) {
			continue
		}
		var periods map[string]InvoiceData
		if err := json.Unmarshal(raw, &periods); err != nil {
			return nil, fmt.Errorf("failed to decode %s invoices: %w", name, err)
		}
		result[group] = periods
	}
	return result, nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// DeviceData is the raw payload of one device.
type DeviceData struct {
	ClassCode     *Number `json:"ClassCode"`
	Status        *Number `json:"Status"`
	Archived      *Text   `json:"Archived"`
	ID            Text    `json:"ID"`
	ClassName     Text    `json:"ClassName"`
	Model         Text    `json:"Model"`
	ManfFirm      Text    `json:"ManfFirm"`
	ManfDate      Text    `json:"ManfDate"`
	Place         Text    `json:"Place"`
	DateNextCheck Text    `json:"DateNextCheck"`
	ManfNo        Text    `json:"ManfNo"`
	ExplEndDate   Text    `json:"ExplEndDate"`
	MeterType     Text    `json:"MeterType"`
	SealDate      Text    `json:"SealDate"`
	SealNum       Text    `json:"SealNum"`
	SchMountDate  Text    `json:"SchMountDate"`
	GodVvoda      Text    `json:"GodVvoda"`
}

// Class returns the class code, or ClassUnknown when absent.
func (d DeviceData) Class() ClassCode {
	if d.ClassCode == nil {
		return ClassUnknown
	}
	return ClassCode(d.ClassCode.Int())
}

// MeterHistoryData pairs a meter with its readings.
type MeterHistoryData struct {
	Info struct {
		ID Text `json:"ID"`
	} `json:"info"`
	Values []HistoryEntryData `json:"values"`
}

// HistoryEntryData is one raw meter reading.
type HistoryEntryData struct {
	Date          DateDict `json:"Date"`
	Value         Number   `json:"V"`
	PreviousValue Number   `json:"prevV"`
	Cost          Number   `json:"Cost"`
	M3            Number   `json:"M3"`
	HasM3         bool     `json:"-"`
}

// UnmarshalJSON records whether the M3 key is present, even when null.
func (h *HistoryEntryData) UnmarshalJSON(data []byte) error {
	type plain HistoryEntryData
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	_, p.HasM3 = keys["M3"]

	*h = HistoryEntryData(p)
	return nil
}

// InvoiceData is the raw payload of one invoice period.
type InvoiceData struct {
	Invoice  Number        `json:"invoice"`
	Payment  Number        `json:"payment"`
	Balance  Number        `json:"balance"`
	Payments []PaymentData `json:"payments"`
}

// PaymentData is one raw payment.
type PaymentData struct {
	Date DateDict `json:"date"`
}

// ParseInvoicePeriod parses the portal's "MM.YYYY" period key.
func ParseInvoicePeriod(key string) (InvoicePeriod, error) {
	monthText, yearText, ok := strings.Cut(strings.TrimSpace(key), ".")
	if !ok {
		return InvoicePeriod{}, fmt.Errorf("invalid invoice period %q", key)
	}
	month, err := strconv.Atoi(monthText)
	if err != nil || month < 1 || month > 12 {
		return InvoicePeriod{}, fmt.Errorf("invalid invoice month in %q", key)
	}
	year, err := strconv.Atoi(yearText)
	if err != nil {
		return InvoicePeriod{}, fmt.Errorf("invalid invoice year in %q", key)
	}
	return InvoicePeriod{Year: year, Month: month}, nil
}
