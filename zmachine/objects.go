package zmachine

import "fmt"

// ---------------------------------------------------------------------------
// Object Table Layout
// ---------------------------------------------------------------------------

// Layout constants per version group. Early stories hold up to 255 objects
// with 32 attributes; v4+ widens relations to words, 48 attributes, and
// 65535 objects.
func (m *Machine) objLayout() (defaults, entrySize, attrBytes int) {
	if m.story.Version <= 3 {
		return 31, 9, 4
	}
	return 63, 14, 6
}

// objEntry returns the address of an object's table entry. Object numbers
// are 1-based; callers handle 0 ("none") before coming here.
func (m *Machine) objEntry(obj uint16) uint32 {
	defaults, entrySize, _ := m.objLayout()
	return uint32(m.story.ObjectTable) + uint32(2*defaults) + uint32(obj-1)*uint32(entrySize)
}

func (m *Machine) objRelation(obj uint16, slot int) uint16 {
	if obj == 0 {
		return 0
	}
	e := m.objEntry(obj)
	_, _, attrBytes := m.objLayout()
	if m.story.Version <= 3 {
		return uint16(m.readByte(e + uint32(attrBytes) + uint32(slot)))
	}
	return m.readWord(e + uint32(attrBytes) + uint32(2*slot))
}

func (m *Machine) setObjRelation(obj uint16, slot int, target uint16) {
	if obj == 0 {
		m.fatalf("relation write on object 0")
	}
	e := m.objEntry(obj)
	_, _, attrBytes := m.objLayout()
	if m.story.Version <= 3 {
		if target > 255 {
			m.fatalf("object %d cannot reference %d in a byte-relation story", obj, target)
		}
		m.writeByte(e+uint32(attrBytes)+uint32(slot), byte(target))
		return
	}
	m.writeWord(e+uint32(attrBytes)+uint32(2*slot), target)
}

const (
	relParent  = 0
	relSibling = 1
	relChild   = 2
)

func (m *Machine) objParent(obj uint16) uint16  { return m.objRelation(obj, relParent) }
func (m *Machine) objSibling(obj uint16) uint16 { return m.objRelation(obj, relSibling) }
func (m *Machine) objChild(obj uint16) uint16   { return m.objRelation(obj, relChild) }

// maxObjects bounds traversals so that corrupt sibling chains terminate.
func (m *Machine) maxObjects() int {
	if m.story.Version <= 3 {
		return 255
	}
	return 65535
}

// ---------------------------------------------------------------------------
// Attributes
// ---------------------------------------------------------------------------

func (m *Machine) objAttrLoc(obj, attr uint16) (addr uint32, mask byte) {
	_, _, attrBytes := m.objLayout()
	if int(attr) >= attrBytes*8 {
		m.fatalf("attribute %d out of range for object %d", attr, obj)
	}
	return m.objEntry(obj) + uint32(attr/8), byte(0x80 >> (attr % 8))
}

func (m *Machine) objTestAttr(obj, attr uint16) bool {
	if obj == 0 {
		return false
	}
	addr, mask := m.objAttrLoc(obj, attr)
	return m.readByte(addr)&mask != 0
}

func (m *Machine) objSetAttr(obj, attr uint16, on bool) {
	if obj == 0 {
		m.fatalf("attribute write on object 0")
	}
	addr, mask := m.objAttrLoc(obj, attr)
	b := m.readByte(addr)
	if on {
		b |= mask
	} else {
		b &^= mask
	}
	m.writeByte(addr, b)
}

// ---------------------------------------------------------------------------
// Tree Surgery
// ---------------------------------------------------------------------------

// objRemove unlinks an object from its parent's child list. The object
// keeps its own children.
func (m *Machine) objRemove(obj uint16) {
	if obj == 0 {
		m.fatalf("remove_obj on object 0")
	}
	parent := m.objParent(obj)
	if parent == 0 {
		m.setObjRelation(obj, relSibling, 0)
		return
	}
	if m.objChild(parent) == obj {
		m.setObjRelation(parent, relChild, m.objSibling(obj))
	} else {
		prev := m.objChild(parent)
		for steps := 0; prev != 0; steps++ {
			if steps > m.maxObjects() {
				m.fatalf("sibling chain of object %d does not terminate", parent)
			}
			next := m.objSibling(prev)
			if next == obj {
				m.setObjRelation(prev, relSibling, m.objSibling(obj))
				break
			}
			prev = next
		}
	}
	m.setObjRelation(obj, relParent, 0)
	m.setObjRelation(obj, relSibling, 0)
}

// objInsert makes obj the first child of dest.
func (m *Machine) objInsert(obj, dest uint16) {
	if obj == 0 || dest == 0 {
		m.fatalf("insert_obj with object 0 (obj=%d dest=%d)", obj, dest)
	}
	m.objRemove(obj)
	m.setObjRelation(obj, relSibling, m.objChild(dest))
	m.setObjRelation(obj, relParent, dest)
	m.setObjRelation(dest, relChild, obj)
}

// ---------------------------------------------------------------------------
// Properties
// ---------------------------------------------------------------------------

// objPropTable returns the address of an object's property table.
func (m *Machine) objPropTable(obj uint16) uint32 {
	_, entrySize, _ := m.objLayout()
	return uint32(m.readWord(m.objEntry(obj) + uint32(entrySize) - 2))
}

// objShortName decodes an object's short name; object 0 and nameless
// objects yield "".
func (m *Machine) objShortName(obj uint16) string {
	if obj == 0 {
		return ""
	}
	pt := m.objPropTable(obj)
	if m.readByte(pt) == 0 {
		return ""
	}
	name, _ := m.DecodeString(pt + 1)
	return name
}

// firstPropAddr returns the address of the first property entry.
func (m *Machine) firstPropAddr(obj uint16) uint32 {
	pt := m.objPropTable(obj)
	return pt + 1 + 2*uint32(m.readByte(pt))
}

// propInfoAt reads the property entry whose size byte starts at addr,
// returning the property number, its data address and length, and the
// address of the following entry. Property number 0 marks the end.
func (m *Machine) propInfoAt(addr uint32) (num int, data uint32, length int, next uint32) {
	size := m.readByte(addr)
	if size == 0 {
		return 0, 0, 0, addr
	}
	if m.story.Version <= 3 {
		num = int(size & 31)
		length = int(size>>5) + 1
		data = addr + 1
	} else if size&0x80 != 0 {
		num = int(size & 63)
		length = int(m.readByte(addr+1) & 63)
		if length == 0 {
			length = 64
		}
		data = addr + 2
	} else {
		num = int(size & 63)
		length = 1
		if size&0x40 != 0 {
			length = 2
		}
		data = addr + 1
	}
	return num, data, length, data + uint32(length)
}

// findProp locates a property on an object. Properties are stored in
// descending number order, so the walk can stop early.
func (m *Machine) findProp(obj uint16, prop int) (data uint32, length int, ok bool) {
	addr := m.firstPropAddr(obj)
	for {
		num, d, l, next := m.propInfoAt(addr)
		if num == 0 || num < prop {
			return 0, 0, false
		}
		if num == prop {
			return d, l, true
		}
		addr = next
	}
}

// objProp implements get_prop: a present 1- or 2-byte property, or the
// table default.
func (m *Machine) objProp(obj, prop uint16) uint16 {
	if obj != 0 {
		if data, length, ok := m.findProp(obj, int(prop)); ok {
			switch length {
			case 1:
				return uint16(m.readByte(data))
			case 2:
				return m.readWord(data)
			default:
				m.fatalf("get_prop %d of object %d: property is %d bytes", prop, obj, length)
			}
		}
	}
	defaults, _, _ := m.objLayout()
	if prop == 0 || int(prop) > defaults {
		m.fatalf("get_prop default for property %d out of range", prop)
	}
	return m.readWord(uint32(m.story.ObjectTable) + 2*uint32(prop-1))
}

func (m *Machine) objPropAddr(obj, prop uint16) uint16 {
	if obj == 0 {
		return 0
	}
	if data, _, ok := m.findProp(obj, int(prop)); ok {
		return uint16(data)
	}
	return 0
}

// propLenAt implements get_prop_len from a property data address, reading
// the size byte(s) just before it. Address 0 yields 0.
func (m *Machine) propLenAt(data uint32) uint16 {
	if data == 0 {
		return 0
	}
	size := m.readByte(data - 1)
	if m.story.Version <= 3 {
		return uint16(size>>5) + 1
	}
	if size&0x80 != 0 {
		l := uint16(size & 63)
		if l == 0 {
			l = 64
		}
		return l
	}
	if size&0x40 != 0 {
		return 2
	}
	return 1
}

func (m *Machine) objNextProp(obj, prop uint16) uint16 {
	if obj == 0 {
		return 0
	}
	if prop == 0 {
		num, _, _, _ := m.propInfoAt(m.firstPropAddr(obj))
		return uint16(num)
	}
	data, length, ok := m.findProp(obj, int(prop))
	if !ok {
		m.fatalf("get_next_prop %d of object %d: no such property", prop, obj)
	}
	num, _, _, _ := m.propInfoAt(data + uint32(length))
	return uint16(num)
}

func (m *Machine) objPutProp(obj, prop, val uint16) {
	if obj == 0 {
		m.fatalf("put_prop on object 0")
	}
	data, length, ok := m.findProp(obj, int(prop))
	if !ok {
		m.fatalf("put_prop %d of object %d: no such property", prop, obj)
	}
	switch length {
	case 1:
		m.writeByte(data, byte(val))
	case 2:
		m.writeWord(data, val)
	default:
		m.fatalf("put_prop %d of object %d: property is %d bytes", prop, obj, length)
	}
}

// ---------------------------------------------------------------------------
// Read-Only Tree Queries
// ---------------------------------------------------------------------------

// Object is a decoded object record: identity, relations, the attribute
// bitset, and property values. It is a copy; mutating it does not touch
// machine memory.
type Object struct {
	Num        int
	Name       string
	Parent     int
	Sibling    int
	Child      int
	Attributes uint64
	Properties map[int][]byte
}

// HasAttr reports whether attribute n is set in the record.
func (o Object) HasAttr(n int) bool {
	return o.Attributes&(1<<uint(63-n)) != 0
}

// ObjectCount estimates the number of objects using the conventional
// heuristic: entries end where the lowest property table begins.
func (m *Machine) ObjectCount() int {
	defaults, entrySize, _ := m.objLayout()
	base := uint32(m.story.ObjectTable) + uint32(2*defaults)
	lowest := uint32(len(m.mem))
	count := 0
	for i := 1; i <= m.maxObjects(); i++ {
		entry := base + uint32(i-1)*uint32(entrySize)
		if entry+uint32(entrySize) > lowest {
			break
		}
		pt := uint32(m.readWord(entry + uint32(entrySize) - 2))
		if pt == 0 || pt >= uint32(len(m.mem)) {
			break
		}
		if pt < lowest {
			lowest = pt
		}
		count = i
	}
	return count
}

// ObjectRecord decodes one object. Relations pointing past the object count
// are preserved as-is; they are the story's own data.
func (m *Machine) ObjectRecord(num int) (Object, error) {
	if num <= 0 || num > m.maxObjects() {
		return Object{}, fmt.Errorf("object %d out of range", num)
	}
	obj := uint16(num)
	o := Object{
		Num:        num,
		Name:       m.objShortName(obj),
		Parent:     int(m.objParent(obj)),
		Sibling:    int(m.objSibling(obj)),
		Child:      int(m.objChild(obj)),
		Properties: make(map[int][]byte),
	}
	_, _, attrBytes := m.objLayout()
	e := m.objEntry(obj)
	for i := 0; i < attrBytes; i++ {
		o.Attributes |= uint64(m.readByte(e+uint32(i))) << uint(56-8*i)
	}
	addr := m.firstPropAddr(obj)
	for {
		num, data, length, next := m.propInfoAt(addr)
		if num == 0 {
			break
		}
		buf := make([]byte, length)
		for i := 0; i < length; i++ {
			buf[i] = m.readByte(data + uint32(i))
		}
		o.Properties[num] = buf
		addr = next
	}
	return o, nil
}

// ObjectRecords decodes every live object.
func (m *Machine) ObjectRecords() ([]Object, error) {
	n := m.ObjectCount()
	out := make([]Object, 0, n)
	for i := 1; i <= n; i++ {
		o, err := m.ObjectRecord(i)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// Children returns the child list of an object in sibling order, guarding
// against malformed chains: revisiting an object is a data-integrity error,
// not a hang.
func (m *Machine) Children(num int) ([]int, error) {
	if num < 0 || num > m.maxObjects() {
		return nil, fmt.Errorf("object %d out of range", num)
	}
	var out []int
	seen := make(map[uint16]bool)
	for c := m.objChild(uint16(num)); c != 0; c = m.objSibling(c) {
		if seen[c] {
			return nil, fmt.Errorf("%w: object %d revisits %d", ErrObjectCycle, num, c)
		}
		seen[c] = true
		out = append(out, int(c))
	}
	return out, nil
}

// AncestryOK verifies that parent links terminate and that parent/child
// relations are mutually consistent for the given object.
func (m *Machine) AncestryOK(num int) error {
	seen := make(map[uint16]bool)
	for o := uint16(num); o != 0; o = m.objParent(o) {
		if seen[o] {
			return fmt.Errorf("%w: parent chain from %d revisits %d", ErrObjectCycle, num, o)
		}
		seen[o] = true
		if p := m.objParent(o); p != 0 {
			found := false
			cnt := 0
			for c := m.objChild(p); c != 0; c = m.objSibling(c) {
				if c == o {
					found = true
					break
				}
				if cnt++; cnt > m.maxObjects() {
					return fmt.Errorf("%w: sibling chain of %d does not terminate", ErrObjectCycle, p)
				}
			}
			if !found {
				return fmt.Errorf("object %d claims parent %d but is not among its children", o, p)
			}
		}
	}
	return nil
}
