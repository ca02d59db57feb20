package schema

// Canonical option lists for the scholarship eligibility form. The dropdown
// texts must match the live form exactly — they are used both for enum
// normalisation and for option selection during form automation.
var (
	indianStates = []string{
		"ANDHRA PRADESH", "ARUNACHAL PRADESH", "ASSAM", "BIHAR", "CHHATTISGARH",
		"DELHI", "GOA", "GUJARAT", "HARYANA", "HIMACHAL PRADESH", "JHARKHAND",
		"KARNATAKA", "KERALA", "MADHYA PRADESH", "MAHARASHTRA", "MANIPUR",
		"MEGHALAYA", "MIZORAM", "NAGALAND", "ODISHA", "PUNJAB", "RAJASTHAN",
		"SIKKIM", "TAMIL NADU", "TELANGANA", "TRIPURA", "UTTAR PRADESH",
		"UTTARAKHAND", "WEST BENGAL",
	}

	professions = []string{
		"Beedi Worker",
		"Central Armed Police Forces & Assam Rifles (CAPFs/AR)",
		"Cine Worker", "Ex-RPF", "Ex-RPSF", "Flayers",
		"Iron Ore, Manganese Ore & Chrome Ore Mine (IOMC) Workers",
		"Limestone & Dolomite Mine (LSDM) Workers", "Others", "Scavengers",
		"Serving RPF", "Serving RPSF",
		"State Police Personnel(Martyred in Terrorist/Naxalite Violence)",
		"Sweepers", "Tanner", "Waste Pickers",
	}

	competitiveExams = []string{
		"NMMS", "PM-USP SSSJKL",
		"STATE COMPETITIVE SCHOLARSHIP EXAM FOR CLASS V AND VIII - MANIPUR",
		"STATE TALENT SEARCH EXAM (STSE) IN MATHS-SCIENCE FOR ST STUDENTS OF CLASS VIII - MEGHALAYA",
	}
)

// Scholarship returns the built-in registry for the national scholarship
// eligibility form: 17 fields across 4 question groups, with the selector
// mapping for the Angular Material controls on the live page.
//
// The built-in schema never fails validation; a failure here is a programming
// error, hence the panic.
func Scholarship() *Registry {
	fields := []FieldSpec{
		{
			Name: "name", Label: "Full Name", Type: TypeString, Required: true,
			Selector: "#mat-input-0", Control: ControlText,
			Hint: "keep the user's spelling, capitalise each name part",
		},
		{
			Name: "gender", Label: "Gender", Type: TypeEnum, Required: true,
			Options:  []string{"Male", "Female", "Others"},
			Selector: "#mat-select-2", Control: ControlSelect,
		},
		{
			Name: "state", Label: "State", Type: TypeEnum, Required: true,
			Options:  indianStates,
			Selector: "#mat-select-0", Control: ControlSelect,
			Hint: "full state name in capital letters, e.g. ANDHRA PRADESH",
		},
		{
			Name: "religion", Label: "Religion", Type: TypeEnum, Required: true,
			Options:  []string{"Hindu", "Muslim", "Christian", "Sikh", "Buddhist", "Jain", "Parsi", "Other"},
			Selector: "#mat-select-8", Control: ControlSelect,
		},
		{
			Name: "dob", Label: "Date of Birth", Type: TypeDate, Required: true,
			Selector: "#mat-input-1", Control: ControlDate,
			Hint: "DD/MM/YYYY",
		},
		{
			Name: "marital_status", Label: "Marital Status", Type: TypeEnum,
			Options:  []string{"Married", "Un Married", "Divorced", "Widowed"},
			Selector: "#mat-select-4", Control: ControlSelect,
		},
		{
			Name: "hosteler", Label: "Hosteler", Type: TypeEnum, Required: true,
			Options:  []string{"Yes", "No"},
			Selector: "#mat-select-14", Control: ControlSelect,
		},
		{
			Name: "annual_family_income", Label: "Annual Family Income", Type: TypeNumber, Required: true,
			Selector: "#mat-input-2", Control: ControlText,
			Hint: "number only, e.g. 360000",
		},
		{
			Name: "community", Label: "Community/Category", Type: TypeEnum, Required: true,
			Options:  []string{"General", "OBC", "SC", "ST"},
			Selector: "#mat-select-10", Control: ControlSelect,
		},
		{
			Name: "course", Label: "Course", Type: TypeEnum, Required: true,
			Options:  []string{"Class 10", "Class 12", "B.Tech", "MBBS"},
			Selector: "#mat-select-22", Control: ControlSelect,
		},
		{
			Name: "x_roll_no", Label: "10th Roll Number", Type: TypeString, Required: true,
			Selector: "#mat-input-8", Control: ControlText,
		},
		{
			Name: "tenth_percentage", Label: "10th Percentage", Type: TypeNumber, Required: true,
			Selector: "#mat-input-9", Control: ControlText,
		},
		{
			Name: "xii_roll_no", Label: "12th Roll Number", Type: TypeString,
			Selector: "#mat-input-5", Control: ControlText,
		},
		{
			Name: "twelfth_percentage", Label: "12th Percentage", Type: TypeNumber,
			Selector: "#mat-input-6", Control: ControlText,
		},
		{
			Name: "parent_profession", Label: "Parent Profession", Type: TypeEnum,
			Options:  professions,
			Selector: "#mat-select-6", Control: ControlSelect,
			Hint: "say Others when nothing on the list applies",
		},
		{
			Name: "competitive_exam", Label: "Competitive Exam", Type: TypeEnum,
			Options:  competitiveExams,
			Selector: "#mat-select-28", Control: ControlSelect,
		},
		{
			// Only meaningful once the exam itself is known.
			Name: "competitive_roll_no", Label: "Competitive Exam Roll No", Type: TypeString,
			DependsOn: "competitive_exam",
			Selector:  "#mat-input-10", Control: ControlText,
		},
	}

	groups := []QuestionGroup{
		{
			Title: "Personal Details",
			Intro: "Let's start with some basic information.",
			Fields: []string{"name", "gender", "state", "religion"},
			Prompts: []string{
				"What is your full name?",
				"What is your gender? (Male, Female, or Others)",
				"Which state do you belong to? (full name, like DELHI or KARNATAKA)",
				"What is your religion? (Hindu, Muslim, Christian, Sikh, etc.)",
			},
		},
		{
			Title: "Personal & Family Details",
			Intro: "Thank you. Now some more personal and family details.",
			Fields: []string{"dob", "marital_status", "hosteler", "annual_family_income", "community"},
			Prompts: []string{
				"What is your date of birth? (DD/MM/YYYY)",
				"Are you married? (Married / Unmarried / Divorced / Widowed)",
				"Do you live in a hostel right now? (Yes / No)",
				"What is your family's annual income? (only number, example 360000)",
				"What category do you belong to? (General / OBC / SC / ST)",
			},
		},
		{
			Title: "Education Details",
			Intro: "Great. Now let's talk about your education.",
			Fields: []string{"course", "x_roll_no", "tenth_percentage", "xii_roll_no", "twelfth_percentage"},
			Prompts: []string{
				"Which course are you studying or have completed? (example: Class 12, B.Tech, MBBS)",
				"What was your 10th class roll number?",
				"What percentage did you get in 10th?",
				"What was your 12th class roll number? (if applicable)",
				"What percentage did you get in 12th? (if applicable)",
			},
		},
		{
			Title: "Additional Information",
			Intro: "Almost done. Just a few more details.",
			Fields: []string{"parent_profession", "competitive_exam", "competitive_roll_no"},
			Prompts: []string{
				"What is your parent's or guardian's profession? (or say None)",
				"Are you applying through any competitive exam? (example: NMMS, or say No)",
				"If yes, what is the roll number of that exam?",
			},
		},
	}

	reg, err := New(groups, fields)
	if err != nil {
		panic("schema: built-in scholarship schema is invalid: " + err.Error())
	}
	return reg
}
