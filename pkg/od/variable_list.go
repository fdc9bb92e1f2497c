package od

// VariableList is the data representation for
// storing a "RECORD" or "ARRAY" object type
type VariableList struct {
	Variables         []*Variable
	objectType        uint8 // either "RECORD" or "ARRAY"
	subEntriesNameMap map[string]uint8
}

// GetSubObject returns the [Variable] corresponding to a given
// subindex.
func (rec *VariableList) GetSubObject(subindex uint8) (*Variable, error) {
	if rec.objectType == ObjectTypeARRAY {
		if int(subindex) >= len(rec.Variables) || rec.Variables[subindex] == nil {
			return nil, ErrSubNotExist
		}
		return rec.Variables[subindex], nil
	}
	for _, variable := range rec.Variables {
		if variable.SubIndex == subindex {
			return variable, nil
		}
	}
	return nil, ErrSubNotExist
}

// GetSubObjectByName returns the [Variable] corresponding to a given
// subindex but by name
func (rec *VariableList) GetSubObjectByName(name string) (*Variable, error) {
	sub, ok := rec.subEntriesNameMap[name]
	if !ok {
		return nil, ErrSubNotExist
	}
	return rec.GetSubObject(sub)
}

// AddSubObject adds a [Variable] to the VariableList
// If the VariableList is an ARRAY then the subindex should be
// identical to the actual placement inside of the array.
// Otherwise it can be any valid subindex value, and the VariableList
// will grow accordingly
func (rec *VariableList) AddSubObject(
	subindex uint8,
	name string,
	datatype uint8,
	attribute uint8,
	value string,
) (*Variable, error) {
	variable, err := NewVariable(subindex, name, datatype, attribute, value)
	if err != nil {
		return nil, err
	}
	return variable, rec.addVariable(variable)
}

func (rec *VariableList) addVariable(variable *Variable) error {
	if rec.objectType == ObjectTypeARRAY {
		if int(variable.SubIndex) >= len(rec.Variables) {
			return ErrSubNotExist
		}
		rec.Variables[variable.SubIndex] = variable
	} else {
		rec.Variables = append(rec.Variables, variable)
	}
	rec.subEntriesNameMap[variable.Name] = variable.SubIndex
	return nil
}

func newVariableList(length int, objectType uint8) *VariableList {
	return &VariableList{objectType: objectType, Variables: make([]*Variable, length), subEntriesNameMap: make(map[string]uint8)}
}

func NewRecord() *VariableList {
	return newVariableList(0, ObjectTypeRECORD)
}

func NewArray(length uint8) *VariableList {
	return newVariableList(int(length), ObjectTypeARRAY)
}
