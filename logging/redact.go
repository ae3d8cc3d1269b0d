package logging

import (
	"regexp"
	"sort"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// safeVars are environment variables that carry no secrets.
var safeVars = map[string]bool{
	"HOME": true, "USER": true, "PWD": true, "OLDPWD": true,
	"SHELL": true, "PATH": true, "LANG": true, "TERM": true,
	"EDITOR": true, "PAGER": true, "HOSTNAME": true, "LOGNAME": true,
	"TMPDIR": true, "XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true,
	"XDG_RUNTIME_DIR": true, "LC_ALL": true, "LC_CTYPE": true,
}

// specialParams are shell special parameters ($?, $1, ...).
var specialParams = map[string]bool{
	"?": true, "!": true, "#": true, "@": true, "*": true,
	"-": true, "$": true, "_": true,
	"0": true, "1": true, "2": true, "3": true, "4": true,
	"5": true, "6": true, "7": true, "8": true, "9": true,
}

var (
	reEmail     = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	reAPIKey    = regexp.MustCompile(`\b(sk|pk|rk)-[A-Za-z0-9_\-]{16,}\b`)
	reBearer    = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/\-]+=*`)
	reBraceVar  = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	reSimpleVar = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
	reAssign    = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)=(\S+)`)
)

// Redact masks personal data in free text: email addresses, API keys,
// bearer tokens, sensitive $VAR references and VAR=value assignments.
// Everything else is left byte-for-byte intact.
func Redact(s string) string {
	if s == "" {
		return s
	}
	s = reEmail.ReplaceAllString(s, "[email]")
	s = reBearer.ReplaceAllString(s, "Bearer ***")
	s = reAPIKey.ReplaceAllString(s, "$1-***")
	if !strings.ContainsAny(s, "$=") {
		return s
	}
	return redactShell(s)
}

type edit struct {
	start, end int
	text       string
}

// redactShell rewrites parameter expansions and assignment values found by
// the shell parser, splicing by offset so the rest of the text is untouched.
// Text that does not parse as shell goes through regexRedact.
func redactShell(s string) string {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash), syntax.KeepComments(true))
	prog, err := parser.Parse(strings.NewReader(s), "")
	if err != nil {
		return regexRedact(s)
	}

	var edits []edit
	syntax.Walk(prog, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.ParamExp:
			if n.Param != nil && !safeVars[n.Param.Value] && !specialParams[n.Param.Value] {
				edits = append(edits, edit{int(n.Param.Pos().Offset()), int(n.Param.End().Offset()), "REDACTED"})
			}
		case *syntax.Assign:
			if n.Name != nil && !safeVars[n.Name.Value] && n.Value != nil && len(n.Value.Parts) > 0 {
				edits = append(edits, edit{int(n.Value.Pos().Offset()), int(n.Value.End().Offset()), "***"})
			}
		}
		return true
	})
	if len(edits) == 0 {
		return s
	}

	// Outermost edit wins when ranges nest (an assignment value holding a $VAR).
	sort.Slice(edits, func(i, j int) bool {
		if edits[i].start != edits[j].start {
			return edits[i].start < edits[j].start
		}
		return edits[i].end > edits[j].end
	})
	kept := edits[:0]
	lastEnd := 0
	for _, e := range edits {
		if e.start < lastEnd || e.start > e.end || e.end > len(s) {
			continue
		}
		kept = append(kept, e)
		lastEnd = e.end
	}

	var sb strings.Builder
	prev := 0
	for _, e := range kept {
		sb.WriteString(s[prev:e.start])
		sb.WriteString(e.text)
		prev = e.end
	}
	sb.WriteString(s[prev:])
	return sb.String()
}

// regexRedact is a fallback for text that fails shell parsing.
func regexRedact(s string) string {
	// ${VAR} → ${REDACTED}
	s = reBraceVar.ReplaceAllStringFunc(s, func(m string) string {
		name := reBraceVar.FindStringSubmatch(m)[1]
		if safeVars[name] || specialParams[name] {
			return m
		}
		return "${REDACTED}"
	})

	// $VAR → $REDACTED
	s = reSimpleVar.ReplaceAllStringFunc(s, func(m string) string {
		name := reSimpleVar.FindStringSubmatch(m)[1]
		if name == "REDACTED" || safeVars[name] || specialParams[name] {
			return m
		}
		return "$REDACTED"
	})

	// VAR=value → VAR=***
	s = reAssign.ReplaceAllStringFunc(s, func(m string) string {
		name := reAssign.FindStringSubmatch(m)[1]
		if safeVars[name] {
			return m
		}
		return name + "=***"
	})
	return s
}
