package capsule

import (
	"go/ast"
	"sort"
	"strconv"
	"strings"
)

// importSpec is a single import line.
type importSpec struct {
	name string // explicit name, "_", "." or empty
	path string
}

// packageName returns the identifier the import binds in the file.
func (s importSpec) packageName() string {
	if s.name != "" {
		return s.name
	}
	return guessImportName(s.path)
}

func (s importSpec) String() string {
	if s.name != "" {
		return s.name + " " + strconv.Quote(s.path)
	}
	return strconv.Quote(s.path)
}

// guessImportName derives a package name from its import path following the
// usual conventions: major version suffixes and gopkg.in ".vN" suffixes are
// skipped, and "go-" prefixes and "-go" suffixes are dropped.
func guessImportName(path string) string {
	elems := strings.Split(path, "/")
	name := elems[len(elems)-1]
	if len(elems) > 1 && isMajorVersion(name) {
		name = elems[len(elems)-2]
	}
	if i := strings.Index(name, ".v"); i > 0 && isDigits(name[i+2:]) {
		name = name[:i]
	}
	name = strings.TrimPrefix(name, "go-")
	name = strings.TrimSuffix(name, "-go")
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}
	return strings.ReplaceAll(name, "-", "")
}

func isMajorVersion(s string) bool {
	return len(s) > 1 && s[0] == 'v' && isDigits(s[1:])
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// usedPackages returns the identifiers used as the operand of a selector
// expression. Any of them may be a package name.
func usedPackages(file *ast.File) map[string]bool {
	used := make(map[string]bool)
	ast.Inspect(file, func(n ast.Node) bool {
		if sel, ok := n.(*ast.SelectorExpr); ok {
			if id, ok := sel.X.(*ast.Ident); ok {
				used[id.Name] = true
			}
		}
		return true
	})
	return used
}

// pruneImports keeps the imports a capsule references. Blank imports are
// always kept for their side effects. Dot imports and excluded path prefixes
// are dropped.
func pruneImports(imports []importSpec, used map[string]bool, excluded []string) []importSpec {
	var kept []importSpec
	seen := make(map[string]bool)
	for _, spec := range imports {
		if spec.name == "." || isExcluded(spec.path, excluded) {
			continue
		}
		if spec.name != "_" && !used[spec.packageName()] {
			continue
		}
		if seen[spec.String()] {
			continue
		}
		seen[spec.String()] = true
		kept = append(kept, spec)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].path < kept[j].path })
	return kept
}

func isExcluded(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// importNames maps each named import path of a file to the identifier it
// binds, for use by the literal renderer.
func importNames(imports []importSpec) map[string]string {
	names := make(map[string]string, len(imports))
	for _, spec := range imports {
		if spec.name == "_" || spec.name == "." {
			continue
		}
		names[spec.path] = spec.packageName()
	}
	return names
}

func renderImports(b *strings.Builder, specs []importSpec) {
	b.WriteString("import (\n")
	for _, spec := range specs {
		b.WriteString("\t")
		b.WriteString(spec.String())
		b.WriteString("\n")
	}
	b.WriteString(")\n")
}
