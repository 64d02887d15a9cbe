package capture

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"strings"
)

// captureMarker tags source lines for marked-line capture: OnLine
// records only lines whose text contains the marker when the target was
// registered with WithMarkedLines.
const captureMarker = "//capture"

// funcSource extracts the source text of the function declaration
// enclosing file:line, plus the line the declaration starts on. The
// snapshot is taken at registration, so later edits to the file never
// change what a recording refers to.
func funcSource(file string, line int) (string, int, error) {
	src, err := os.ReadFile(file)
	if err != nil {
		return "", 0, err
	}

	fset := token.NewFileSet()
	parsed, err := parser.ParseFile(fset, file, src, parser.ParseComments)
	if err != nil {
		return "", 0, fmt.Errorf("parse %s: %w", file, err)
	}

	for _, decl := range parsed.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok {
			continue
		}
		start := fset.Position(fd.Pos())
		end := fset.Position(fd.End())
		if line < start.Line || line > end.Line {
			continue
		}
		return string(src[start.Offset:end.Offset]), start.Line, nil
	}
	return "", 0, fmt.Errorf("%s:%d: no function declaration", file, line)
}

// markedLines maps each marker-tagged line of source to true. firstLine
// is the file line source starts on.
func markedLines(source string, firstLine int) map[int]bool {
	lines := map[int]bool{}
	for i, text := range strings.Split(source, "\n") {
		if strings.Contains(text, captureMarker) {
			lines[firstLine+i] = true
		}
	}
	return lines
}
