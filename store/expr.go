package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// deleteCondition builds "attribute_exists(#pk) AND #attr0 = :val0 AND ..."
// for a conditional delete. Attributes are sorted so the expression is stable.
func deleteCondition(hashKey string, expect map[string]string) (string, map[string]string, map[string]types.AttributeValue) {
	names := map[string]string{"#pk": hashKey}
	var values map[string]types.AttributeValue
	clauses := []string{"attribute_exists(#pk)"}

	attrs := make([]string, 0, len(expect))
	for k := range expect {
		attrs = append(attrs, k)
	}
	sort.Strings(attrs)

	for i, attr := range attrs {
		if values == nil {
			values = make(map[string]types.AttributeValue, len(attrs))
		}
		nameKey := fmt.Sprintf("#attr%d", i)
		valueKey := fmt.Sprintf(":val%d", i)
		names[nameKey] = attr
		values[valueKey] = &types.AttributeValueMemberS{Value: expect[attr]}
		clauses = append(clauses, fmt.Sprintf("%s = %s", nameKey, valueKey))
	}

	return strings.Join(clauses, " AND "), names, values
}

// validateCreateTable rejects parameters DynamoDB would refuse, before any call.
func validateCreateTable(in *dynamodb.CreateTableInput) error {
	if in == nil {
		return fmt.Errorf("%w: no table parameters", ErrSchema)
	}
	if aws.ToString(in.TableName) == "" {
		return fmt.Errorf("%w: table name is empty", ErrSchema)
	}
	if !hasHashKey(in.KeySchema) {
		return fmt.Errorf("%w: key schema has no HASH key", ErrSchema)
	}

	used := make(map[string]bool)
	for _, k := range in.KeySchema {
		used[aws.ToString(k.AttributeName)] = true
	}

	seen := make(map[string]bool)
	for _, gsi := range in.GlobalSecondaryIndexes {
		name := aws.ToString(gsi.IndexName)
		if name == "" {
			return fmt.Errorf("%w: index without a name", ErrSchema)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate index %q", ErrSchema, name)
		}
		seen[name] = true
		if !hasHashKey(gsi.KeySchema) {
			return fmt.Errorf("%w: index %q has no HASH key", ErrSchema, name)
		}
		if gsi.Projection == nil {
			return fmt.Errorf("%w: index %q has no projection", ErrSchema, name)
		}
		if in.BillingMode == types.BillingModeProvisioned && gsi.ProvisionedThroughput == nil {
			return fmt.Errorf("%w: index %q needs provisioned throughput", ErrSchema, name)
		}
		for _, k := range gsi.KeySchema {
			used[aws.ToString(k.AttributeName)] = true
		}
	}

	defined := make(map[string]bool)
	for _, def := range in.AttributeDefinitions {
		attr := aws.ToString(def.AttributeName)
		if defined[attr] {
			return fmt.Errorf("%w: attribute %q defined twice", ErrSchema, attr)
		}
		defined[attr] = true
		if !used[attr] {
			return fmt.Errorf("%w: attribute %q is defined but not used as a key", ErrSchema, attr)
		}
	}
	for attr := range used {
		if !defined[attr] {
			return fmt.Errorf("%w: key attribute %q has no definition", ErrSchema, attr)
		}
	}

	if in.BillingMode == types.BillingModeProvisioned && in.ProvisionedThroughput == nil {
		return fmt.Errorf("%w: provisioned billing needs throughput", ErrSchema)
	}
	return nil
}

func hasHashKey(keys []types.KeySchemaElement) bool {
	for _, k := range keys {
		if k.KeyType == types.KeyTypeHash {
			return true
		}
	}
	return false
}

func hasDefinition(defs []types.AttributeDefinition, attr string) bool {
	for _, def := range defs {
		if aws.ToString(def.AttributeName) == attr {
			return true
		}
	}
	return false
}

// stringAttr extracts a string attribute, or "" if absent or not a string.
func stringAttr(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}
