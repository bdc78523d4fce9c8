package regions

// DefaultTable returns the production lookup table: the 36 states and union
// territories, the spelling variants observed in real source files, and the
// non-region values (city names, numeric garbage) known to appear in the
// region column.
func DefaultTable() Table {
	return Table{
		Canonical: []string{
			"Andaman and Nicobar Islands",
			"Andhra Pradesh",
			"Arunachal Pradesh",
			"Assam",
			"Bihar",
			"Chandigarh",
			"Chhattisgarh",
			"Dadra and Nagar Haveli and Daman and Diu",
			"Delhi",
			"Goa",
			"Gujarat",
			"Haryana",
			"Himachal Pradesh",
			"Jammu and Kashmir",
			"Jharkhand",
			"Karnataka",
			"Kerala",
			"Ladakh",
			"Lakshadweep",
			"Madhya Pradesh",
			"Maharashtra",
			"Manipur",
			"Meghalaya",
			"Mizoram",
			"Nagaland",
			"Odisha",
			"Puducherry",
			"Punjab",
			"Rajasthan",
			"Sikkim",
			"Tamil Nadu",
			"Telangana",
			"Tripura",
			"Uttar Pradesh",
			"Uttarakhand",
			"West Bengal",
		},
		Aliases: map[string]string{
			// West Bengal variations
			"WEST BENGAL":  "West Bengal",
			"WESTBENGAL":   "West Bengal",
			"West  Bengal": "West Bengal",
			"West Bangal":  "West Bengal",
			"West Bengli":  "West Bengal",
			"Westbengal":   "West Bengal",
			"west Bengal":  "West Bengal",
			// Odisha variations
			"ODISHA": "Odisha",
			"Orissa": "Odisha",
			"odisha": "Odisha",
			// Others
			"andhra pradesh":            "Andhra Pradesh",
			"Tamilnadu":                 "Tamil Nadu",
			"Jammu & Kashmir":           "Jammu and Kashmir",
			"Jammu And Kashmir":         "Jammu and Kashmir",
			"Chhatisgarh":               "Chhattisgarh",
			"Uttaranchal":               "Uttarakhand",
			"Pondicherry":               "Puducherry",
			"Andaman & Nicobar Islands": "Andaman and Nicobar Islands",
			"Dadra & Nagar Haveli":      "Dadra and Nagar Haveli and Daman and Diu",
			"Dadra and Nagar Haveli":    "Dadra and Nagar Haveli and Daman and Diu",
			"Daman & Diu":               "Dadra and Nagar Haveli and Daman and Diu",
			"Daman and Diu":             "Dadra and Nagar Haveli and Daman and Diu",
			"The Dadra And Nagar Haveli And Daman And Diu": "Dadra and Nagar Haveli and Daman and Diu",
		},
		Invalid: map[string]struct{}{
			"100000":               {},
			"BALANAGAR":            {},
			"Darbhanga":            {},
			"Jaipur":               {},
			"Madanapalle":          {},
			"Nagpur":               {},
			"Puttenahalli":         {},
			"Raja Annamalai Puram": {},
		},
	}
}
