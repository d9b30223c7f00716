package icatapi

// The tables in this file describe the catalogue schema: every entity
// type, its attributes (with kinds), its relations (with targets), and
// its uniqueness constraint.  Variants are selected per schema version at
// registry construction; there is no inheritance here, 4.3 deltas are
// spelled out inline.
//
// restoreOrder additionally fixes the order in which top-level types must
// be created so that every to-one target of a record is already persisted
// when the record is restored.  Types missing from this list never appear
// as top-level chunk tags: the owned child types only nest under their
// parents, and the server-internal types (log, notificationRequest) are
// not dump material at all.

var restoreOrder = []TypeName{
	"user",
	"grouping",
	"rule",
	"publicStep",
	"facility",
	"instrument",
	"parameterType",
	"investigationType",
	"sampleType",
	"datasetType",
	"datafileFormat",
	"facilityCycle",
	"application",
	"investigation",
	"study",
	"sample",
	"dataset",
	"datafile",
	"relatedDatafile",
	"dataCollection",
	"job",
}

// parameterAttrs is shared by the five concrete parameter types.
func parameterAttrs() []Attr {
	return []Attr{
		{"numericValue", KindFloat},
		{"dateTimeValue", KindDate},
		{"stringValue", KindString},
		{"rangeBottom", KindFloat},
		{"rangeTop", KindFloat},
		{"error", KindFloat},
	}
}

func typeTable(v43 bool) []TypeInfo {
	// The name of the user-group entity's relation changed in 4.3 along
	// with its bean name; the type tag stays "grouping" in both variants
	// so dumps keep one stable vocabulary.
	groupRel := "group"
	groupBean := "Group"
	if v43 {
		groupRel = "grouping"
		groupBean = "Grouping"
	}

	types := []TypeInfo{
		{
			Name:  "user",
			Bean:  "User",
			Attrs: []Attr{{"name", KindString}, {"fullName", KindString}},
			ToMany: []Relation{
				{"investigationUsers", "investigationUser"},
				{"instrumentScientists", "instrumentScientist"},
				{"userGroups", "userGroup"},
				{"studies", "study"},
			},
			Constraint: []string{"name"},
		},
		{
			Name:  "grouping",
			Bean:  groupBean,
			Attrs: []Attr{{"name", KindString}},
			ToMany: []Relation{
				{"userGroups", "userGroup"},
				{"rules", "rule"},
			},
			Constraint: []string{"name"},
		},
		{
			Name:  "rule",
			Bean:  "Rule",
			Attrs: []Attr{{"what", KindString}, {"crudFlags", KindString}},
			ToOne: []Relation{{groupRel, "grouping"}},
		},
		{
			Name:       "publicStep",
			Bean:       "PublicStep",
			Attrs:      []Attr{{"origin", KindString}, {"field", KindString}},
			Constraint: []string{"origin", "field"},
		},
		{
			Name: "facility",
			Bean: "Facility",
			Attrs: []Attr{
				{"name", KindString},
				{"fullName", KindString},
				{"description", KindString},
				{"url", KindString},
				{"daysUntilRelease", KindInt},
			},
			ToMany: []Relation{
				{"instruments", "instrument"},
				{"facilityCycles", "facilityCycle"},
				{"investigations", "investigation"},
				{"parameterTypes", "parameterType"},
				{"datafileFormats", "datafileFormat"},
				{"datasetTypes", "datasetType"},
				{"sampleTypes", "sampleType"},
				{"investigationTypes", "investigationType"},
			},
			Constraint: []string{"name"},
		},
		{
			Name: "instrument",
			Bean: "Instrument",
			Attrs: []Attr{
				{"name", KindString},
				{"fullName", KindString},
				{"description", KindString},
				{"type", KindString},
			},
			ToOne: []Relation{{"facility", "facility"}},
			ToMany: []Relation{
				{"instrumentScientists", "instrumentScientist"},
				{"investigations", "investigation"},
			},
			Constraint: []string{"facility", "name"},
		},
		{
			Name: "parameterType",
			Bean: "ParameterType",
			Attrs: []Attr{
				{"name", KindString},
				{"description", KindString},
				{"valueType", KindString},
				{"units", KindString},
				{"unitsFullName", KindString},
				{"minimumNumericValue", KindFloat},
				{"maximumNumericValue", KindFloat},
				{"enforced", KindBool},
				{"verified", KindBool},
				{"applicableToDatafile", KindBool},
				{"applicableToDataset", KindBool},
				{"applicableToSample", KindBool},
				{"applicableToInvestigation", KindBool},
			},
			ToOne: []Relation{{"facility", "facility"}},
			ToMany: []Relation{
				{"datafileParameters", "datafileParameter"},
				{"datasetParameters", "datasetParameter"},
				{"sampleParameters", "sampleParameter"},
				{"investigationParameters", "investigationParameter"},
				{"permissibleStringValues", "permissibleStringValue"},
			},
			Constraint: []string{"facility", "name", "units"},
		},
		{
			Name:       "investigationType",
			Bean:       "InvestigationType",
			Attrs:      []Attr{{"name", KindString}, {"description", KindString}},
			ToOne:      []Relation{{"facility", "facility"}},
			ToMany:     []Relation{{"investigations", "investigation"}},
			Constraint: []string{"facility", "name"},
		},
		{
			Name: "sampleType",
			Bean: "SampleType",
			Attrs: []Attr{
				{"name", KindString},
				{"molecularFormula", KindString},
				{"safetyInformation", KindString},
			},
			ToOne:      []Relation{{"facility", "facility"}},
			ToMany:     []Relation{{"samples", "sample"}},
			Constraint: []string{"facility", "name", "molecularFormula"},
		},
		{
			Name:       "datasetType",
			Bean:       "DatasetType",
			Attrs:      []Attr{{"name", KindString}, {"description", KindString}},
			ToOne:      []Relation{{"facility", "facility"}},
			ToMany:     []Relation{{"datasets", "dataset"}},
			Constraint: []string{"facility", "name"},
		},
		{
			Name: "datafileFormat",
			Bean: "DatafileFormat",
			Attrs: []Attr{
				{"name", KindString},
				{"description", KindString},
				{"version", KindString},
				{"type", KindString},
			},
			ToOne:      []Relation{{"facility", "facility"}},
			ToMany:     []Relation{{"datafiles", "datafile"}},
			Constraint: []string{"facility", "name", "version"},
		},
		{
			Name: "facilityCycle",
			Bean: "FacilityCycle",
			Attrs: []Attr{
				{"name", KindString},
				{"description", KindString},
				{"startDate", KindDate},
				{"endDate", KindDate},
			},
			ToOne:      []Relation{{"facility", "facility"}},
			ToMany:     []Relation{{"investigations", "investigation"}},
			Constraint: []string{"facility", "name"},
		},
		{
			Name:       "application",
			Bean:       "Application",
			Attrs:      []Attr{{"name", KindString}, {"version", KindString}},
			ToMany:     []Relation{{"jobs", "job"}},
			Constraint: []string{"name", "version"},
		},
		{
			Name: "investigation",
			Bean: "Investigation",
			Attrs: []Attr{
				{"name", KindString},
				{"title", KindString},
				{"summary", KindString},
				{"doi", KindString},
				{"visitId", KindString},
				{"startDate", KindDate},
				{"endDate", KindDate},
				{"releaseDate", KindDate},
			},
			ToOne: []Relation{
				{"type", "investigationType"},
				{"facility", "facility"},
				{"instrument", "instrument"},
				{"facilityCycle", "facilityCycle"},
			},
			ToMany: []Relation{
				{"parameters", "investigationParameter"},
				{"investigationUsers", "investigationUser"},
				{"keywords", "keyword"},
				{"publications", "publication"},
				{"samples", "sample"},
				{"datasets", "dataset"},
				{"shifts", "shift"},
				{"studyInvestigations", "studyInvestigation"},
			},
			Constraint: []string{"name", "visitId"},
		},
		{
			Name: "study",
			Bean: "Study",
			Attrs: []Attr{
				{"name", KindString},
				{"description", KindString},
				{"status", KindString},
				{"startDate", KindDate},
			},
			ToOne:  []Relation{{"user", "user"}},
			ToMany: []Relation{{"studyInvestigations", "studyInvestigation"}},
		},
		{
			Name:  "sample",
			Bean:  "Sample",
			Attrs: []Attr{{"name", KindString}},
			ToOne: []Relation{
				{"type", "sampleType"},
				{"investigation", "investigation"},
			},
			ToMany: []Relation{
				{"parameters", "sampleParameter"},
				{"datasets", "dataset"},
			},
			Constraint: []string{"investigation", "name"},
		},
		{
			Name: "dataset",
			Bean: "Dataset",
			Attrs: []Attr{
				{"name", KindString},
				{"description", KindString},
				{"location", KindString},
				{"startDate", KindDate},
				{"endDate", KindDate},
				{"complete", KindBool},
				{"doi", KindString},
			},
			ToOne: []Relation{
				{"type", "datasetType"},
				{"sample", "sample"},
				{"investigation", "investigation"},
			},
			ToMany: []Relation{
				{"parameters", "datasetParameter"},
				{"datafiles", "datafile"},
				{"inputDatasets", "inputDataset"},
				{"outputDatasets", "outputDataset"},
			},
			Constraint: []string{"investigation", "name"},
		},
		{
			Name: "datafile",
			Bean: "Datafile",
			Attrs: []Attr{
				{"name", KindString},
				{"description", KindString},
				{"location", KindString},
				{"fileSize", KindInt},
				{"checksum", KindString},
				{"datafileCreateTime", KindDate},
				{"datafileModTime", KindDate},
				{"doi", KindString},
			},
			ToOne: []Relation{
				{"datafileFormat", "datafileFormat"},
				{"dataset", "dataset"},
			},
			ToMany: []Relation{
				{"parameters", "datafileParameter"},
				{"inputDatafiles", "inputDatafile"},
				{"outputDatafiles", "outputDatafile"},
				{"sourceDatafiles", "relatedDatafile"},
				{"destDatafiles", "relatedDatafile"},
			},
			Constraint: []string{"dataset", "name"},
		},
		{
			Name:  "relatedDatafile",
			Bean:  "RelatedDatafile",
			Attrs: []Attr{{"relation", KindString}},
			ToOne: []Relation{
				{"sourceDatafile", "datafile"},
				{"destDatafile", "datafile"},
			},
			Constraint: []string{"sourceDatafile", "destDatafile"},
		},
		{
			Name: "dataCollection",
			Bean: "DataCollection",
			ToMany: []Relation{
				{"dataCollectionDatafiles", "dataCollectionDatafile"},
				{"dataCollectionDatasets", "dataCollectionDataset"},
				{"dataCollectionParameters", "dataCollectionParameter"},
				{"jobsAsInput", "job"},
				{"jobsAsOutput", "job"},
			},
		},
		{
			Name:  "job",
			Bean:  "Job",
			ToOne: []Relation{{"application", "application"}},
			ToMany: []Relation{
				{"inputDatafiles", "inputDatafile"},
				{"inputDatasets", "inputDataset"},
				{"outputDatafiles", "outputDatafile"},
				{"outputDatasets", "outputDataset"},
			},
		},

		// Owned child types.  These only ever appear nested under their
		// parents in dumps; they are declared so the decoder can recurse
		// into them and so DescribeType covers the whole schema.
		{
			Name: "userGroup",
			Bean: "UserGroup",
			ToOne: []Relation{
				{"user", "user"},
				{groupRel, "grouping"},
			},
			Constraint: []string{"user", groupRel},
		},
		{
			Name: "instrumentScientist",
			Bean: "InstrumentScientist",
			ToOne: []Relation{
				{"user", "user"},
				{"instrument", "instrument"},
			},
			Constraint: []string{"user", "instrument"},
		},
		{
			Name:       "permissibleStringValue",
			Bean:       "PermissibleStringValue",
			Attrs:      []Attr{{"value", KindString}},
			ToOne:      []Relation{{"type", "parameterType"}},
			Constraint: []string{"value", "type"},
		},
		{
			Name:       "keyword",
			Bean:       "Keyword",
			Attrs:      []Attr{{"name", KindString}},
			ToOne:      []Relation{{"investigation", "investigation"}},
			Constraint: []string{"name", "investigation"},
		},
		{
			Name: "publication",
			Bean: "Publication",
			Attrs: []Attr{
				{"fullReference", KindString},
				{"url", KindString},
				{"doi", KindString},
				{"repository", KindString},
				{"repositoryId", KindString},
			},
			ToOne: []Relation{{"investigation", "investigation"}},
		},
		{
			Name: "shift",
			Bean: "Shift",
			Attrs: []Attr{
				{"comment", KindString},
				{"startDate", KindDate},
				{"endDate", KindDate},
			},
			ToOne:      []Relation{{"investigation", "investigation"}},
			Constraint: []string{"investigation", "startDate"},
		},
		{
			Name:  "investigationUser",
			Bean:  "InvestigationUser",
			Attrs: []Attr{{"role", KindString}},
			ToOne: []Relation{
				{"user", "user"},
				{"investigation", "investigation"},
			},
			Constraint: []string{"user", "investigation"},
		},
		{
			Name: "investigationInstrument",
			Bean: "InvestigationInstrument",
			ToOne: []Relation{
				{"investigation", "investigation"},
				{"instrument", "instrument"},
			},
			Constraint: []string{"investigation", "instrument"},
		},
		{
			Name:  "investigationParameter",
			Bean:  "InvestigationParameter",
			Attrs: parameterAttrs(),
			ToOne: []Relation{
				{"investigation", "investigation"},
				{"type", "parameterType"},
			},
			Constraint: []string{"investigation", "type"},
		},
		{
			Name:  "sampleParameter",
			Bean:  "SampleParameter",
			Attrs: parameterAttrs(),
			ToOne: []Relation{
				{"sample", "sample"},
				{"type", "parameterType"},
			},
			Constraint: []string{"sample", "type"},
		},
		{
			Name:  "datasetParameter",
			Bean:  "DatasetParameter",
			Attrs: parameterAttrs(),
			ToOne: []Relation{
				{"dataset", "dataset"},
				{"type", "parameterType"},
			},
			Constraint: []string{"dataset", "type"},
		},
		{
			Name:  "datafileParameter",
			Bean:  "DatafileParameter",
			Attrs: parameterAttrs(),
			ToOne: []Relation{
				{"datafile", "datafile"},
				{"type", "parameterType"},
			},
			Constraint: []string{"datafile", "type"},
		},
		{
			Name: "studyInvestigation",
			Bean: "StudyInvestigation",
			ToOne: []Relation{
				{"study", "study"},
				{"investigation", "investigation"},
			},
			Constraint: []string{"study", "investigation"},
		},
		{
			Name: "dataCollectionDatafile",
			Bean: "DataCollectionDatafile",
			ToOne: []Relation{
				{"dataCollection", "dataCollection"},
				{"datafile", "datafile"},
			},
			Constraint: []string{"dataCollection", "datafile"},
		},
		{
			Name: "dataCollectionDataset",
			Bean: "DataCollectionDataset",
			ToOne: []Relation{
				{"dataCollection", "dataCollection"},
				{"dataset", "dataset"},
			},
			Constraint: []string{"dataCollection", "dataset"},
		},
		{
			Name:  "dataCollectionParameter",
			Bean:  "DataCollectionParameter",
			Attrs: parameterAttrs(),
			ToOne: []Relation{
				{"dataCollection", "dataCollection"},
				{"type", "parameterType"},
			},
			Constraint: []string{"dataCollection", "type"},
		},
		{
			Name: "inputDatafile",
			Bean: "InputDatafile",
			ToOne: []Relation{
				{"job", "job"},
				{"datafile", "datafile"},
			},
			Constraint: []string{"job", "datafile"},
		},
		{
			Name: "inputDataset",
			Bean: "InputDataset",
			ToOne: []Relation{
				{"job", "job"},
				{"dataset", "dataset"},
			},
			Constraint: []string{"job", "dataset"},
		},
		{
			Name: "outputDatafile",
			Bean: "OutputDatafile",
			ToOne: []Relation{
				{"job", "job"},
				{"datafile", "datafile"},
			},
			Constraint: []string{"job", "datafile"},
		},
		{
			Name: "outputDataset",
			Bean: "OutputDataset",
			ToOne: []Relation{
				{"job", "job"},
				{"dataset", "dataset"},
			},
			Constraint: []string{"job", "dataset"},
		},

		// Server-internal types.  Never dumped, but DescribeType knows them.
		{
			Name: "log",
			Bean: "Log",
			Attrs: []Attr{
				{"query", KindString},
				{"operation", KindString},
				{"entityId", KindInt},
				{"entityName", KindString},
				{"duration", KindFloat},
			},
		},
		{
			Name: "notificationRequest",
			Bean: "NotificationRequest",
			Attrs: []Attr{
				{"name", KindString},
				{"what", KindString},
				{"crudFlags", KindString},
				{"datatypes", KindString},
				{"destType", KindString},
				{"jmsOptions", KindString},
			},
		},
	}

	if v43 {
		apply43(types)
	}
	return types
}

// apply43 rewrites the table entries whose shape changed in schema 4.3.
func apply43(types []TypeInfo) {
	byName := make(map[TypeName]*TypeInfo, len(types))
	for i := range types {
		byName[types[i].Name] = &types[i]
	}

	// facility gains the applications collection.
	fac := byName["facility"]
	fac.ToMany = append(fac.ToMany, Relation{"applications", "application"})

	// application becomes facility-scoped.
	app := byName["application"]
	app.ToOne = []Relation{{"facility", "facility"}}
	app.Constraint = []string{"facility", "name", "version"}

	// instrument gains a url and trades the investigations collection for
	// the investigationInstruments link entities.
	ins := byName["instrument"]
	ins.Attrs = append(ins.Attrs, Attr{"url", KindString})
	ins.ToMany = []Relation{
		{"instrumentScientists", "instrumentScientist"},
		{"investigationInstruments", "investigationInstrument"},
	}

	// parameterType may now apply to data collections.
	pt := byName["parameterType"]
	pt.Attrs = append(pt.Attrs, Attr{"applicableToDataCollection", KindBool})
	pt.ToMany = append(pt.ToMany, Relation{"dataCollectionParameters", "dataCollectionParameter"})

	// facilityCycle no longer carries a collection of investigations.
	byName["facilityCycle"].ToMany = nil

	// investigation links instruments through investigationInstruments
	// and is facility-scoped in its constraint.
	inv := byName["investigation"]
	inv.ToOne = []Relation{
		{"type", "investigationType"},
		{"facility", "facility"},
	}
	inv.ToMany = []Relation{
		{"parameters", "investigationParameter"},
		{"investigationInstruments", "investigationInstrument"},
		{"investigationUsers", "investigationUser"},
		{"keywords", "keyword"},
		{"publications", "publication"},
		{"samples", "sample"},
		{"datasets", "dataset"},
		{"shifts", "shift"},
		{"studyInvestigations", "studyInvestigation"},
	}
	inv.Constraint = []string{"facility", "name", "visitId"}

	// dataset and datafile link jobs through data collections now.
	ds := byName["dataset"]
	ds.ToMany = []Relation{
		{"parameters", "datasetParameter"},
		{"datafiles", "datafile"},
		{"dataCollectionDatasets", "dataCollectionDataset"},
	}
	df := byName["datafile"]
	df.ToMany = []Relation{
		{"parameters", "datafileParameter"},
		{"dataCollectionDatafiles", "dataCollectionDatafile"},
		{"sourceDatafiles", "relatedDatafile"},
		{"destDatafiles", "relatedDatafile"},
	}

	// job runs over data collections and takes arguments.
	job := byName["job"]
	job.Attrs = []Attr{{"arguments", KindString}}
	job.ToOne = []Relation{
		{"application", "application"},
		{"inputDataCollection", "dataCollection"},
		{"outputDataCollection", "dataCollection"},
	}
	job.ToMany = nil
}
