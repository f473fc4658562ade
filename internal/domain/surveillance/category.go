package surveillance

// HAI type values accepted by the case registry.
const (
	HAITypeHAP    = "Healthcare-Associated Pneumonia"
	HAITypeVAP    = "Ventilator Associated Pneumonia"
	HAITypeCAUTI  = "Catheter-Associated UTI"
	HAITypeCLABSI = "Catheter-Related Blood Stream Infections"
	HAITypeSSI    = "Surgical Site Infection"
	HAITypeCDI    = "Clostridioides difficile Infection"
	HAITypeOther  = "Other HAI"
)

// HAITypes is the closed list of HAI types.
var HAITypes = []string{
	HAITypeHAP,
	HAITypeVAP,
	HAITypeCAUTI,
	HAITypeCLABSI,
	HAITypeSSI,
	HAITypeCDI,
	HAITypeOther,
}

// IsHAIType reports whether s is one of HAITypes.
func IsHAIType(s string) bool {
	for _, t := range HAITypes {
		if t == s {
			return true
		}
	}
	return false
}

// Category is a rate category.
type Category int

const (
	CategoryHAP Category = iota
	CategoryVAP
	CategoryCAUTI
	CategoryCLABSI
)

var categoryByType = map[string]Category{
	HAITypeHAP:    CategoryHAP,
	HAITypeVAP:    CategoryVAP,
	HAITypeCAUTI:  CategoryCAUTI,
	HAITypeCLABSI: CategoryCLABSI,
}

// CategoryFor maps an HAI type onto its rate category by exact match.
func CategoryFor(haiType string) (Category, bool) {
	c, ok := categoryByType[haiType]
	return c, ok
}

func (c Category) String() string {
	switch c {
	case CategoryHAP:
		return "hap"
	case CategoryVAP:
		return "vap"
	case CategoryCAUTI:
		return "cauti"
	case CategoryCLABSI:
		return "clabsi"
	}
	return "unknown"
}
