package od

import (
	_ "embed"
	"fmt"
	"regexp"
	"strconv"

	"gopkg.in/ini.v1"
)

//go:embed default.eds
var defaultEds []byte

var (
	matchIdxRegExp    = regexp.MustCompile(`^[0-9A-Fa-f]{4}$`)
	matchSubidxRegExp = regexp.MustCompile(`^([0-9A-Fa-f]{4})[sS]ub([0-9A-Fa-f]+)$`)
)

// Return the default object dictionary for the given node id.
// It holds the mandatory objects, the default SDO server parameters
// and a few manufacturer specific test objects.
func Default(nodeId uint8) *ObjectDictionary {
	od, err := Parse(defaultEds, nodeId)
	if err != nil {
		panic(err)
	}
	return od
}

// Parse an EDS file
// file can be either a path or an *os.File or []byte
func Parse(file any, nodeId uint8) (*ObjectDictionary, error) {
	od := NewOD()
	// Load .ini format
	edsFile, err := ini.Load(file)
	if err != nil {
		return nil, err
	}

	// Iterate over all the sections
	// Index sections always come before their sub sections in EDS files
	for _, section := range edsFile.Sections() {
		sectionName := section.Name()

		// Match indexes : This adds new entries to the dictionary
		if matchIdxRegExp.MatchString(sectionName) {
			idx, err := strconv.ParseUint(sectionName, 16, 16)
			if err != nil {
				return nil, err
			}
			index := uint16(idx)
			name := section.Key("ParameterName").String()
			objType, err := strconv.ParseUint(section.Key("ObjectType").Value(), 0, 8)
			objectType := uint8(objType)

			// If no object type, default to 7 (CiA spec)
			if err != nil {
				objectType = ObjectTypeVAR
			}

			// objectType determines what type of entry we should add to dictionary : Variable, Array or Record
			switch objectType {
			case ObjectTypeVAR, ObjectTypeDOMAIN:
				variable, err := NewVariableFromSection(section, name, nodeId, index, 0)
				if err != nil {
					return nil, err
				}
				od.addVariable(index, variable)
			case ObjectTypeARRAY:
				// Array objects do not allow holes in subindex numbers
				// So pre-init slice up to subnumber
				subNumber, err := strconv.ParseUint(section.Key("SubNumber").Value(), 0, 8)
				if err != nil {
					return nil, fmt.Errorf("failed to parse 'SubNumber' for x%x : %w", index, err)
				}
				od.AddVariableList(index, name, NewArray(uint8(subNumber)))
			case ObjectTypeRECORD:
				// Record objects allow holes in mapping
				// Sub-objects will be added with "append"
				od.AddVariableList(index, name, NewRecord())
			default:
				return nil, fmt.Errorf("unknown object type x%x whilst parsing EDS at x%x", objectType, index)
			}
		}

		// Match subindexes, add the subindex values to Record or Array objects
		if matches := matchSubidxRegExp.FindStringSubmatch(sectionName); matches != nil {
			idx, err := strconv.ParseUint(matches[1], 16, 16)
			if err != nil {
				return nil, err
			}
			index := uint16(idx)
			sidx, err := strconv.ParseUint(matches[2], 16, 8)
			if err != nil {
				return nil, err
			}
			subIndex := uint8(sidx)
			name := section.Key("ParameterName").String()

			entry := od.Index(index)
			if entry == nil {
				return nil, fmt.Errorf("index with id x%x not found", index)
			}
			// Add new subindex entry member
			err = entry.addSectionMember(section, name, nodeId, subIndex)
			if err != nil {
				return nil, err
			}
		}
	}
	return od, nil
}
