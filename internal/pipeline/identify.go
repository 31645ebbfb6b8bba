package pipeline

import (
	"path"
	"strings"

	"github.com/pcbview/boardworker/internal/board"
)

// layerRole is the identified side and type of a design file.
type layerRole struct {
	Side board.Side
	Type board.LayerType
}

// extensionRoles maps common CAM output extensions (Protel/Altium style) to roles.
var extensionRoles = map[string]layerRole{
	".gtl": {board.SideTop, board.TypeCopper},
	".gbl": {board.SideBottom, board.TypeCopper},
	".g1":  {board.SideInner, board.TypeCopper},
	".g2":  {board.SideInner, board.TypeCopper},
	".g3":  {board.SideInner, board.TypeCopper},
	".g4":  {board.SideInner, board.TypeCopper},
	".gp1": {board.SideInner, board.TypeCopper},
	".gp2": {board.SideInner, board.TypeCopper},
	".gts": {board.SideTop, board.TypeSoldermask},
	".gbs": {board.SideBottom, board.TypeSoldermask},
	".gto": {board.SideTop, board.TypeSilkscreen},
	".gbo": {board.SideBottom, board.TypeSilkscreen},
	".gtp": {board.SideTop, board.TypeSolderpaste},
	".gbp": {board.SideBottom, board.TypeSolderpaste},
	".gko": {board.SideAll, board.TypeOutline},
	".gm1": {board.SideAll, board.TypeOutline},
	".gml": {board.SideAll, board.TypeOutline},
	".gm":  {board.SideAll, board.TypeOutline},
	".drl": {board.SideAll, board.TypeDrill},
	".drd": {board.SideAll, board.TypeDrill},
	".xln": {board.SideAll, board.TypeDrill},
	".exc": {board.SideAll, board.TypeDrill},
	".txt": {board.SideAll, board.TypeDrill},
}

// nameRoles matches KiCad and Eagle style names. Order matters: the first
// substring found in the lowercased base name wins.
var nameRoles = []struct {
	match string
	role  layerRole
}{
	{"f_cu", layerRole{board.SideTop, board.TypeCopper}},
	{"f.cu", layerRole{board.SideTop, board.TypeCopper}},
	{"b_cu", layerRole{board.SideBottom, board.TypeCopper}},
	{"b.cu", layerRole{board.SideBottom, board.TypeCopper}},
	{"in1_cu", layerRole{board.SideInner, board.TypeCopper}},
	{"in2_cu", layerRole{board.SideInner, board.TypeCopper}},
	{"f_mask", layerRole{board.SideTop, board.TypeSoldermask}},
	{"f.mask", layerRole{board.SideTop, board.TypeSoldermask}},
	{"b_mask", layerRole{board.SideBottom, board.TypeSoldermask}},
	{"b.mask", layerRole{board.SideBottom, board.TypeSoldermask}},
	{"f_silks", layerRole{board.SideTop, board.TypeSilkscreen}},
	{"f.silks", layerRole{board.SideTop, board.TypeSilkscreen}},
	{"b_silks", layerRole{board.SideBottom, board.TypeSilkscreen}},
	{"b.silks", layerRole{board.SideBottom, board.TypeSilkscreen}},
	{"f_paste", layerRole{board.SideTop, board.TypeSolderpaste}},
	{"f.paste", layerRole{board.SideTop, board.TypeSolderpaste}},
	{"b_paste", layerRole{board.SideBottom, board.TypeSolderpaste}},
	{"b.paste", layerRole{board.SideBottom, board.TypeSolderpaste}},
	{"edge_cuts", layerRole{board.SideAll, board.TypeOutline}},
	{"edge.cuts", layerRole{board.SideAll, board.TypeOutline}},
	{"outline", layerRole{board.SideAll, board.TypeOutline}},
	{"toplayer", layerRole{board.SideTop, board.TypeCopper}},
	{"bottomlayer", layerRole{board.SideBottom, board.TypeCopper}},
	{"drill", layerRole{board.SideAll, board.TypeDrill}},
}

// identifyLayer determines the role of a design file from its name.
// ok is false for files that are not recognized as board layers.
func identifyLayer(filename string) (layerRole, bool) {
	base := strings.ToLower(path.Base(strings.ReplaceAll(filename, "\\", "/")))
	if base == "" || strings.HasPrefix(base, ".") {
		return layerRole{}, false
	}

	for _, nr := range nameRoles {
		if strings.Contains(base, nr.match) {
			return nr.role, true
		}
	}

	if role, ok := extensionRoles[path.Ext(base)]; ok {
		return role, true
	}

	return layerRole{}, false
}
