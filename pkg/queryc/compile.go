package queryc

import (
	"fmt"
	"strings"
	"time"

	"github.com/dativebase/old/pkg/model"
)

const malformedKey = "Malformed OLD query error"

// Query is the wire shape of a search request body.
type Query struct {
	Filter  interface{}   `json:"filter"`
	OrderBy []interface{} `json:"order_by"`
}

// Compiled is the SQL rendering of a query: a WHERE condition with its
// arguments, the outer joins the condition depends on (in order), and an
// ORDER BY clause.
type Compiled struct {
	Where   string
	Joins   []string
	Args    []interface{}
	OrderBy string
}

// Compiler translates list-form filter expressions into SQL against one
// target model. A Compiler is single-use: aliases and placeholder numbering
// accumulate across one Compile call.
type Compiler struct {
	dialect Dialect
	target  string

	errs   map[string]string
	joins  []string
	args   []interface{}
	aliasN int
}

// NewCompiler creates a compiler for the given dialect and target model.
func NewCompiler(dialect Dialect, target string) *Compiler {
	return &Compiler{
		dialect: dialect,
		target:  target,
		errs:    make(map[string]string),
	}
}

// Compile validates and translates a query. All validation problems are
// accumulated; if any exist the result is a *model.SearchParseError carrying
// the full keyed map.
func (c *Compiler) Compile(q Query) (*Compiled, error) {
	if _, ok := Schema[c.target]; !ok {
		return nil, fmt.Errorf("unknown target model: %s", c.target)
	}
	if q.Filter == nil {
		c.errs[malformedKey] = "The submitted query was malformed"
	}

	where, _ := c.translate(q.Filter)
	orderBy := c.compileOrderBy(q.OrderBy)

	if len(c.errs) > 0 {
		return nil, &model.SearchParseError{Errors: c.errs}
	}
	return &Compiled{
		Where:   where,
		Joins:   c.joins,
		Args:    c.args,
		OrderBy: orderBy,
	}, nil
}

func (c *Compiler) malformed() (string, bool) {
	c.errs[malformedKey] = "The submitted query was malformed"
	return "", false
}

func (c *Compiler) translate(v interface{}) (string, bool) {
	list, ok := v.([]interface{})
	if !ok || len(list) < 2 {
		return c.malformed()
	}
	head, ok := list[0].(string)
	if !ok {
		return c.malformed()
	}

	switch head {
	case "and", "or":
		children, ok := list[1].([]interface{})
		if !ok || len(children) == 0 {
			return c.malformed()
		}
		conds := make([]string, 0, len(children))
		allOK := true
		for _, child := range children {
			cond, ok := c.translate(child)
			if !ok {
				allOK = false
				continue
			}
			conds = append(conds, cond)
		}
		if !allOK {
			return "", false
		}
		joiner := " AND "
		if head == "or" {
			joiner = " OR "
		}
		return "(" + strings.Join(conds, joiner) + ")", true
	case "not":
		cond, ok := c.translate(list[1])
		if !ok {
			return "", false
		}
		return "NOT " + cond, true
	}

	// Simple or cross-model expression.
	switch len(list) {
	case 4:
		attr, ok1 := list[1].(string)
		rel, ok2 := list[2].(string)
		if !ok1 || !ok2 {
			return c.malformed()
		}
		return c.simple(head, attr, rel, list[3])
	case 5:
		attr, ok1 := list[1].(string)
		subattr, ok2 := list[2].(string)
		rel, ok3 := list[3].(string)
		if !ok1 || !ok2 || !ok3 {
			return c.malformed()
		}
		return c.cross(head, attr, subattr, rel, list[4])
	}
	return c.malformed()
}

// simple compiles [M, a, rel, v]. When M is not the target model the join
// path is discovered implicitly: the first joinable attribute of the target
// whose foreign model is M carries the condition.
func (c *Compiler) simple(modelName, attr, rel string, value interface{}) (string, bool) {
	schema, ok := Schema[modelName]
	if !ok {
		c.errs[modelName] = fmt.Sprintf("Searching the OLD using the %s model is not possible", modelName)
		return "", false
	}

	if modelName != c.target {
		via, ok := c.joinPath(modelName)
		if !ok {
			c.errs[modelName] = fmt.Sprintf("Searching the %s model by %s is not possible",
				c.target, modelName)
			return "", false
		}
		return c.cross(c.target, via, attr, rel, value)
	}

	spec, ok := schema.Attrs[attr]
	if !ok {
		c.errs[modelName+"."+attr] = fmt.Sprintf("Searching on the %s.%s attribute is not permitted",
			modelName, attr)
		return "", false
	}

	switch spec.Kind {
	case Scalar:
		col := schema.Table + "." + spec.Column
		return c.condition(col, spec.Type, modelName, attr, rel, value)
	case ScalarRef:
		// Foreign-key attributes admit only equality relations against ids.
		col := schema.Table + "." + spec.Column
		return c.fkCondition(col, modelName, attr, rel, value)
	default:
		c.errs[modelName+"."+attr] = fmt.Sprintf(
			"The %s.%s attribute requires a sub-attribute to search on", modelName, attr)
		return "", false
	}
}

// joinPath finds a joinable attribute of the target model whose foreign
// model is foreignName. Deterministic: ties broken lexicographically.
func (c *Compiler) joinPath(foreignName string) (string, bool) {
	schema := Schema[c.target]
	best := ""
	for name, spec := range schema.Attrs {
		if spec.Foreign == foreignName && spec.Joinable {
			if best == "" || name < best {
				best = name
			}
		}
	}
	return best, best != ""
}

// cross compiles [M, a, a', rel, v]: an outer join against an aliased
// foreign table, condition on the foreign attribute.
func (c *Compiler) cross(modelName, attr, subattr, rel string, value interface{}) (string, bool) {
	schema, ok := Schema[modelName]
	if !ok {
		c.errs[modelName] = fmt.Sprintf("Searching the OLD using the %s model is not possible", modelName)
		return "", false
	}
	if modelName != c.target {
		c.errs[modelName+"."+attr] = fmt.Sprintf(
			"Cross-model search must start from the %s model", c.target)
		return "", false
	}
	spec, ok := schema.Attrs[attr]
	if !ok {
		c.errs[modelName+"."+attr] = fmt.Sprintf("Searching on the %s.%s attribute is not permitted",
			modelName, attr)
		return "", false
	}
	if spec.Kind == Scalar {
		c.errs[modelName+"."+attr] = fmt.Sprintf(
			"The %s.%s attribute is not a relational attribute", modelName, attr)
		return "", false
	}
	if !spec.Joinable {
		c.errs[modelName+"."+attr] = fmt.Sprintf(
			"The %s attribute of the %s model is not joinable", attr, modelName)
		return "", false
	}

	foreign, ok := Schema[spec.Foreign]
	if !ok {
		c.errs[modelName+"."+attr] = fmt.Sprintf(
			"The %s attribute of the %s model is not joinable", attr, modelName)
		return "", false
	}
	fspec, ok := foreign.Attrs[subattr]
	if !ok || fspec.Kind != Scalar {
		c.errs[spec.Foreign+"."+subattr] = fmt.Sprintf(
			"Searching on the %s.%s attribute is not permitted", spec.Foreign, subattr)
		return "", false
	}

	alias := c.addJoin(schema, spec, foreign)
	col := alias + "." + fspec.Column
	return c.condition(col, fspec.Type, spec.Foreign, subattr, rel, value)
}

// addJoin appends the outer join(s) reaching the foreign table and returns
// the alias the condition should reference. Every call gets fresh aliases so
// independent conditions against the same collection do not collapse.
func (c *Compiler) addJoin(schema Model, spec Attr, foreign Model) string {
	c.aliasN++
	alias := fmt.Sprintf("%s_%d", foreign.Table, c.aliasN)

	switch {
	case spec.Kind == ScalarRef:
		c.joins = append(c.joins, fmt.Sprintf(
			"LEFT OUTER JOIN %s AS %s ON %s.id = %s.%s",
			foreign.Table, alias, alias, schema.Table, spec.Column))
	case spec.AssocTable != "":
		assocAlias := fmt.Sprintf("%s_%d", spec.AssocTable, c.aliasN)
		c.joins = append(c.joins,
			fmt.Sprintf("LEFT OUTER JOIN %s AS %s ON %s.%s = %s.id",
				spec.AssocTable, assocAlias, assocAlias, spec.LocalKey, schema.Table),
			fmt.Sprintf("LEFT OUTER JOIN %s AS %s ON %s.id = %s.%s",
				foreign.Table, alias, alias, assocAlias, spec.ForeignKey))
	default:
		// Reversed one-to-many: the foreign table holds the FK.
		c.joins = append(c.joins, fmt.Sprintf(
			"LEFT OUTER JOIN %s AS %s ON %s.%s = %s.id",
			foreign.Table, alias, alias, spec.LocalKey, schema.Table))
	}
	return alias
}

// relation aliases, operator-method names included.
var relationAliases = map[string]string{
	"=": "=", "eq": "=", "__eq__": "=",
	"!=": "!=", "ne": "!=", "__ne__": "!=",
	"<": "<", "lt": "<", "__lt__": "<",
	"<=": "<=", "le": "<=", "lte": "<=", "__le__": "<=",
	">": ">", "gt": ">", "__gt__": ">",
	">=": ">=", "ge": ">=", "gte": ">=", "__ge__": ">=",
	"like": "like", "__like__": "like",
	"regex": "regex", "regexp": "regex", "__regexp__": "regex",
	"in": "in", "in_": "in", "__in__": "in",
}

var allowedRelations = map[ValueType]map[string]bool{
	TypeText: {"=": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
		"like": true, "regex": true, "in": true},
	TypeInt:      {"=": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true, "in": true},
	TypeFloat:    {"=": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true, "in": true},
	TypeBool:     {"=": true, "!=": true},
	TypeDate:     {"=": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true},
	TypeDatetime: {"=": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true},
}

func (c *Compiler) normalizeRelation(modelName, attr, rel string, vt ValueType) (string, bool) {
	canonical, ok := relationAliases[rel]
	if !ok || !allowedRelations[vt][canonical] {
		c.errs[fmt.Sprintf("%s.%s.%s", modelName, attr, rel)] = fmt.Sprintf(
			"The relation %s is not permitted for %s.%s", rel, modelName, attr)
		return "", false
	}
	return canonical, true
}

func (c *Compiler) placeholder(value interface{}) string {
	c.args = append(c.args, value)
	return c.dialect.Placeholder(len(c.args))
}

func (c *Compiler) condition(col string, vt ValueType, modelName, attr, rel string, value interface{}) (string, bool) {
	canonical, ok := c.normalizeRelation(modelName, attr, rel, vt)
	if !ok {
		return "", false
	}

	if value == nil {
		switch canonical {
		case "=":
			return col + " IS NULL", true
		case "!=":
			return col + " IS NOT NULL", true
		}
		c.errs[fmt.Sprintf("%s.%s.%s", modelName, attr, rel)] =
			"NULL search values are only permitted with = and !="
		return "", false
	}

	switch canonical {
	case "in":
		items, ok := value.([]interface{})
		if !ok {
			c.errs[fmt.Sprintf("%s.%s.in", modelName, attr)] =
				"The value of an in search must be a list"
			return "", false
		}
		if len(items) == 0 {
			return "1 = 0", true
		}
		phs := make([]string, 0, len(items))
		for _, item := range items {
			conv, ok := c.convertValue(vt, modelName, attr, item)
			if !ok {
				return "", false
			}
			phs = append(phs, c.placeholder(conv))
		}
		return fmt.Sprintf("%s IN (%s)", col, strings.Join(phs, ", ")), true
	case "regex":
		s, ok := value.(string)
		if !ok {
			c.errs[fmt.Sprintf("%s.%s.regex", modelName, attr)] =
				"The value of a regex search must be a string"
			return "", false
		}
		return c.dialect.RegexpCondition(col, c.placeholder(s)), true
	case "like":
		s, ok := value.(string)
		if !ok {
			c.errs[fmt.Sprintf("%s.%s.like", modelName, attr)] =
				"The value of a like search must be a string"
			return "", false
		}
		return fmt.Sprintf("%s LIKE %s", c.collated(col, vt), c.placeholder(s)), true
	}

	conv, ok := c.convertValue(vt, modelName, attr, value)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s %s %s", c.collated(col, vt), canonical, c.placeholder(conv)), true
}

// fkCondition renders a four-element filter on a foreign-key attribute:
// only equality relations against the raw id column.
func (c *Compiler) fkCondition(col, modelName, attr, rel string, value interface{}) (string, bool) {
	canonical, ok := relationAliases[rel]
	if !ok || (canonical != "=" && canonical != "!=" && canonical != "in") {
		c.errs[fmt.Sprintf("%s.%s.%s", modelName, attr, rel)] = fmt.Sprintf(
			"The relation %s is not permitted for %s.%s", rel, modelName, attr)
		return "", false
	}
	if value == nil {
		if canonical == "=" {
			return col + " IS NULL", true
		}
		if canonical == "!=" {
			return col + " IS NOT NULL", true
		}
	}
	if canonical == "in" {
		items, ok := value.([]interface{})
		if !ok {
			c.errs[fmt.Sprintf("%s.%s.in", modelName, attr)] =
				"The value of an in search must be a list"
			return "", false
		}
		if len(items) == 0 {
			return "1 = 0", true
		}
		phs := make([]string, 0, len(items))
		for _, item := range items {
			phs = append(phs, c.placeholder(item))
		}
		return fmt.Sprintf("%s IN (%s)", col, strings.Join(phs, ", ")), true
	}
	return fmt.Sprintf("%s %s %s", col, canonical, c.placeholder(value)), true
}

func (c *Compiler) collated(col string, vt ValueType) string {
	if vt == TypeText {
		return c.dialect.CollateFilter(col)
	}
	return col
}

// convertValue applies the attribute's value converter: ISO-8601 dates and
// datetimes are parsed, and datetimes rounded to the dialect's storage
// granularity.
func (c *Compiler) convertValue(vt ValueType, modelName, attr string, value interface{}) (interface{}, bool) {
	switch vt {
	case TypeDate:
		s, ok := value.(string)
		if !ok {
			c.errs[modelName+"."+attr] = "Date search parameters must be valid ISO 8601 date strings"
			return nil, false
		}
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			c.errs[modelName+"."+attr] = "Date search parameters must be valid ISO 8601 date strings"
			return nil, false
		}
		return t, true
	case TypeDatetime:
		s, ok := value.(string)
		if !ok {
			c.errs[modelName+"."+attr] = "Datetime search parameters must be valid ISO 8601 datetime strings"
			return nil, false
		}
		t, err := parseISODatetime(s)
		if err != nil {
			c.errs[modelName+"."+attr] = "Datetime search parameters must be valid ISO 8601 datetime strings"
			return nil, false
		}
		return c.dialect.RoundDatetime(t), true
	}
	return value, true
}

func parseISODatetime(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05.999999",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable datetime: %s", s)
}

// compileOrderBy validates [model, attr, direction] and renders the ORDER BY
// expression; the default is ascending by the target's primary key.
func (c *Compiler) compileOrderBy(ob []interface{}) string {
	schema := Schema[c.target]
	defaultOrder := schema.Table + ".id ASC"
	if len(ob) == 0 {
		return defaultOrder
	}
	if len(ob) < 2 || len(ob) > 3 {
		c.errs["OrderBy"] = "The provided order by expression was invalid"
		return defaultOrder
	}
	modelName, ok1 := ob[0].(string)
	attr, ok2 := ob[1].(string)
	if !ok1 || !ok2 {
		c.errs["OrderBy"] = "The provided order by expression was invalid"
		return defaultOrder
	}
	if modelName != c.target {
		c.errs["OrderBy"] = fmt.Sprintf("Ordering is only permitted on the %s model", c.target)
		return defaultOrder
	}
	spec, ok := schema.Attrs[attr]
	if !ok || spec.Kind != Scalar {
		c.errs["OrderBy"] = fmt.Sprintf("Ordering on %s.%s is not permitted", modelName, attr)
		return defaultOrder
	}

	direction := "ASC"
	if len(ob) == 3 {
		d, ok := ob[2].(string)
		if !ok {
			c.errs["OrderBy"] = "The provided order by expression was invalid"
			return defaultOrder
		}
		switch strings.ToLower(d) {
		case "asc", "ascending":
			direction = "ASC"
		case "desc", "descending":
			direction = "DESC"
		default:
			c.errs["OrderBy"] = "The provided order by expression was invalid"
			return defaultOrder
		}
	}

	col := schema.Table + "." + spec.Column
	if spec.Type == TypeText {
		col = c.dialect.CollateOrder(col)
	}
	return col + " " + direction
}
