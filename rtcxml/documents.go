package rtcxml

import "encoding/xml"

// Namespaces of the exchange documents
const (
	FewsNamespace   = "http://www.wldelft.nl/fews"
	OpenDANamespace = "http://www.openda.org"
)

// File names inside a configuration directory
const (
	ToolsConfigFile = "rtcToolsConfig.xml"
	DataConfigFile  = "rtcDataConfig.xml"
	TimeSeriesFile  = "timeseries_import.xml"
	StateFile       = "state_import.xml"

	timeSeriesExportFile = "timeseries_export.xml"
)

// element captures the name of an element the decoder does not know
type element struct {
	XMLName xml.Name
}

// rtcToolsConfig.xml

type toolsConfig struct {
	XMLName    xml.Name       `xml:"http://www.wldelft.nl/fews rtcToolsConfig"`
	General    general        `xml:"general"`
	Components *componentList `xml:"components"`
	Rules      *ruleList      `xml:"rules"`
	Triggers   *triggerList   `xml:"triggers"`
	Unknown    []element      `xml:",any"`
}

type general struct {
	Description       string `xml:"description"`
	PoolRoutingScheme string `xml:"poolRoutingScheme"`
	Theta             string `xml:"theta"`
}

type componentList struct {
	Components []component `xml:"component"`
}

type component struct {
	UnitDelay *unitDelay `xml:"unitDelay"`
	Unknown   []element  `xml:",any"`
}

type unitDelay struct {
	ID     string `xml:"id,attr"`
	Input  xInput `xml:"input"`
	Output struct {
		YVector string `xml:"yVector"`
	} `xml:"output"`
}

type ruleList struct {
	Rules []ruleElement `xml:"rule"`
}

type ruleElement struct {
	PID          *pidElement          `xml:"pid"`
	Interval     *intervalElement     `xml:"interval"`
	LookupTable  *lookupTableElement  `xml:"lookupTable"`
	TimeRelative *timeRelativeElement `xml:"timeRelative"`
	TimeAbsolute *timeAbsoluteElement `xml:"timeAbsolute"`
	Factor       *factorElement       `xml:"factor"`
	Unknown      []element            `xml:",any"`
}

// seriesRef is a reference to a time series, optionally with the moment
// within the step it is read at
type seriesRef struct {
	Ref   string `xml:"ref,attr,omitempty"`
	Value string `xml:",chardata"`
}

type xInput struct {
	X string `xml:"x"`
}

type yOutput struct {
	Y string `xml:"y"`
}

type pidElement struct {
	ID              string `xml:"id,attr"`
	Mode            string `xml:"mode"`
	SettingMin      string `xml:"settingMin"`
	SettingMax      string `xml:"settingMax"`
	SettingMaxSpeed string `xml:"settingMaxSpeed"`
	Kp              string `xml:"kp"`
	Ki              string `xml:"ki"`
	Kd              string `xml:"kd"`
	Input           struct {
		X              string `xml:"x"`
		SetpointValue  string `xml:"setpointValue,omitempty"`
		SetpointSeries string `xml:"setpointSeries,omitempty"`
	} `xml:"input"`
	Output struct {
		Y                string `xml:"y"`
		IntegralPart     string `xml:"integralPart,omitempty"`
		DifferentialPart string `xml:"differentialPart,omitempty"`
	} `xml:"output"`
}

type intervalElement struct {
	ID                       string `xml:"id,attr"`
	SettingBelow             string `xml:"settingBelow"`
	SettingAbove             string `xml:"settingAbove"`
	SettingMaxStep           string `xml:"settingMaxStep"`
	DeadbandSetpointAbsolute string `xml:"deadbandSetpointAbsolute,omitempty"`
	DeadbandSetpointRelative string `xml:"deadbandSetpointRelative,omitempty"`
	Input                    struct {
		X             string `xml:"x"`
		Setpoint      string `xml:"setpoint,omitempty"`
		SetpointValue string `xml:"setpointValue,omitempty"`
	} `xml:"input"`
	Output struct {
		Y      string `xml:"y"`
		Status string `xml:"status,omitempty"`
	} `xml:"output"`
}

type tableRecord struct {
	X string `xml:"x,attr"`
	Y string `xml:"y,attr"`
}

type lookupTableElement struct {
	ID    string `xml:"id,attr"`
	Table struct {
		Records []tableRecord `xml:"record"`
	} `xml:"table"`
	InterpolationOption string `xml:"interpolationOption"`
	ExtrapolationOption string `xml:"extrapolationOption"`
	Input               struct {
		X seriesRef `xml:"x"`
	} `xml:"input"`
	Output yOutput `xml:"output"`
}

type timeRecord struct {
	Time  string `xml:"time,attr"`
	Value string `xml:"value,attr"`
}

type timeRelativeElement struct {
	ID            string `xml:"id,attr"`
	Mode          string `xml:"mode"`
	ValueOption   string `xml:"valueOption"`
	MaximumPeriod string `xml:"maximumPeriod"`
	ControlTable  struct {
		Records []timeRecord `xml:"record"`
	} `xml:"controlTable"`
	InterpolationOption string `xml:"interpolationOption"`
	Output              struct {
		Y          string `xml:"y"`
		TimeActive string `xml:"timeActive,omitempty"`
	} `xml:"output"`
}

type timeAbsoluteElement struct {
	ID     string  `xml:"id,attr"`
	Input  xInput  `xml:"input"`
	Output yOutput `xml:"output"`
}

type factorElement struct {
	ID           string  `xml:"id,attr"`
	Factor       string  `xml:"factor,omitempty"`
	FactorSeries string  `xml:"factorSeries,omitempty"`
	Input        xInput  `xml:"input"`
	Output       yOutput `xml:"output"`
}

type triggerList struct {
	Triggers []trigger `xml:"trigger"`
}

type trigger struct {
	Expression    *expressionElement `xml:"expression"`
	Standard      *standardElement   `xml:"standard"`
	RuleReference string             `xml:"ruleReference,omitempty"`
	Unknown       []element          `xml:",any"`
}

type expressionElement struct {
	ID                   string     `xml:"id,attr"`
	X1Value              string     `xml:"x1Value,omitempty"`
	X1Series             *seriesRef `xml:"x1Series"`
	MathematicalOperator string     `xml:"mathematicalOperator,omitempty"`
	X2Value              string     `xml:"x2Value,omitempty"`
	X2Series             *seriesRef `xml:"x2Series"`
	Y                    string     `xml:"y"`
}

type standardElement struct {
	ID        string `xml:"id,attr"`
	Condition struct {
		X1Series           seriesRef  `xml:"x1Series"`
		RelationalOperator string     `xml:"relationalOperator"`
		X2Value            string     `xml:"x2Value,omitempty"`
		X2Series           *seriesRef `xml:"x2Series"`
	} `xml:"condition"`
	True   *triggerList `xml:"true"`
	False  *triggerList `xml:"false"`
	Output struct {
		Status string `xml:"status"`
	} `xml:"output"`
}

// rtcDataConfig.xml

type dataConfig struct {
	XMLName      xml.Name    `xml:"http://www.wldelft.nl/fews rtcDataConfig"`
	ImportSeries seriesBlock `xml:"importSeries"`
	ExportSeries seriesBlock `xml:"exportSeries"`
	Unknown      []element   `xml:",any"`
}

type seriesBlock struct {
	PITimeSeriesFile *piTimeSeriesFile `xml:"PITimeSeriesFile"`
	Series           []dataSeries      `xml:"timeSeries"`
}

type piTimeSeriesFile struct {
	TimeSeriesFile string `xml:"timeSeriesFile"`
	UseBinFile     string `xml:"useBinFile"`
}

type dataSeries struct {
	ID       string        `xml:"id,attr"`
	OpenMI   *exchangeItem `xml:"OpenMIExchangeItem"`
	PISeries *piSeries     `xml:"PITimeSeries"`
}

type exchangeItem struct {
	ElementID  string `xml:"elementId"`
	QuantityID string `xml:"quantityId"`
	Unit       string `xml:"unit,omitempty"`
}

type piSeries struct {
	LocationID          string `xml:"locationId"`
	ParameterID         string `xml:"parameterId"`
	InterpolationOption string `xml:"interpolationOption,omitempty"`
	ExtrapolationOption string `xml:"extrapolationOption,omitempty"`
}

// state_import.xml

type treeVectorFile struct {
	XMLName    xml.Name    `xml:"http://www.openda.org treeVectorFile"`
	TreeVector *treeVector `xml:"treeVector"`
}

type treeVector struct {
	Leaves []treeVectorLeaf `xml:"treeVectorLeaf"`
}

type treeVectorLeaf struct {
	ID     string `xml:"id,attr"`
	Vector string `xml:"vector"`
}
