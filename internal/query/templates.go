package query

import (
	"slices"
	"sync"

	"github.com/j-veylop/mosoblgaz-tui/internal/apierr"
)

// Template names known to the portal.
const (
	GetInternalSystemStatuses = "getInternalSystemStatuses"
	MessagesCount             = "messagesCount"
	InitialData               = "initialData"
	AccountsList              = "accountsList"
	ContractDevices           = "contractDevices"
)

var messagesSelection = Section("messages",
	Fields("id", "level", "sticky", "tag", "text", "type", "textAsJsonArray")...,
)

var templates = map[string]Template{
	GetInternalSystemStatuses: {
		Selection: []Node{
			Section("me", Field("id")),
			Field("internalSystemStatuses"),
		},
	},
	MessagesCount: {
		Selection: []Node{messagesSelection},
	},
	InitialData: {
		Selection: []Node{
			Section("me",
				Field("id"),
				Field("name"),
				Field("featureFlags"),
				Section("contracts", Field("number")),
			),
			Section("metadata", Fields(
				"lkk3Enabled",
				"supportPhone",
				"supportPhoneActive",
				"supportPhoneNormalized",
				"newcomer",
			)...),
			Field("internalSystemStatuses"),
			messagesSelection,
		},
	},
	AccountsList: {
		Selection: []Node{
			Section("me",
				Field("id"),
				Section("contracts",
					Field("number"),
					Field("alias"),
					Field("address"),
					Field("existsRealMeter"),
					Field("houseCategory"),
					Section("liveBalance", Fields("number", "liveBalance")...),
					Section("filial", Fields("id", "title")...),
					Section("contractData",
						Field("number"),
						Section("Devices", Field("ID")),
					),
				),
			),
		},
	},
	ContractDevices: {
		Variables: []Variable{{Name: "number", Type: "String!"}},
		Selection: []Node{
			Section("me",
				Field("id"),
				SectionWithArgs("contract", []Arg{{Param: "number", Variable: "number"}},
					Section("filial", Fields("id", "title")...),
					Field("alias"),
					Field("address"),
					Field("calculationsAndPayments"),
					Field("name"),
					Field("number"),
					Field("vdgo"),
					Field("existsRealMeter"),
					Section("contractData",
						Field("number"),
						Section("Nach",
							Field("number"),
							Section("sch",
								Field("number"),
								Section("data", Fields("Id", "Cost", "Dim")...),
							),
						),
						Section("Devices", Fields(
							"ID",
							"ClassCode",
							"ClassName",
							"Model",
							"ManfFirm",
							"ManfDate",
							"Place",
							"DateNextCheck",
							"ManfNo",
							"Status",
							"IdDogovoraTOVDGO",
							"Archived",
							"BeginDateOff",
							"OffReason",
							"OffReasonId",
							"MeterType",
							"ExtraMeterType",
							"SmartHouse",
							"IsForeign",
							"HeatOutput",
							"ExplEndDate",
							"SealDate",
							"SchMountDate",
							"SealNum",
							"MeterMaxM3",
							"GodVvoda",
						)...),
					),
					Section("contractTODocuments",
						Section("contract", Field("number")),
						Section("file", Field("id")),
					),
					Section("liveBalance", Fields("number", "liveBalance")...),
					Section("metersHistory", Fields("number", "data")...),
				),
			),
		},
	},
}

var (
	compileOnce sync.Once
	compiled    map[string]string
)

// compiledTemplates builds the immutable name → text map on first use.
func compiledTemplates() map[string]string {
	compileOnce.Do(func() {
		compiled = make(map[string]string, len(templates))
		for name, tmpl := range templates {
			compiled[name] = tmpl.Compile()
		}
	})
	return compiled
}

// Text returns the compiled template without an operation prefix.
func Text(name string) (string, error) {
	text, ok := compiledTemplates()[name]
	if !ok {
		return "", apierr.QueryNotFound(name)
	}
	return text, nil
}

// Query returns "query <name> " followed by the compiled template.
func Query(name string) (string, error) {
	return QueryAs(name, name)
}

// QueryAs returns the compiled template under a different operation name.
func QueryAs(name, operation string) (string, error) {
	text, err := Text(name)
	if err != nil {
		return "", err
	}
	return "query " + operation + " " + text, nil
}

// MustQuery is Query for template names defined in this package.
func MustQuery(name string) string {
	text, err := Query(name)
	if err != nil {
		panic(err)
	}
	return text
}

// Names returns the known template names in sorted order.
func Names() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
