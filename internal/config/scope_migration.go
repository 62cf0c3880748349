package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// MigrateLegacyScope rewrites a space-separated "scope" string into the "scopes"
// list at startup. Returns true if the file was rewritten. Comments and key order
// elsewhere in the document are kept.
//
// Migration flow:
// 1. "scopes" already present -> skip
// 2. "scope" present as a scalar -> split on whitespace and replace the key
// 3. neither -> nothing to do
func MigrateLegacyScope(configFile string) (bool, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return false, nil
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return false, nil
	}
	rootMap := root.Content[0]
	if rootMap == nil || rootMap.Kind != yaml.MappingNode {
		return false, nil
	}
	if findMapKeyIndex(rootMap, "scopes") >= 0 {
		return false, nil
	}
	oldIdx := findMapKeyIndex(rootMap, "scope")
	if oldIdx < 0 || oldIdx+1 >= len(rootMap.Content) {
		return false, nil
	}
	oldValue := rootMap.Content[oldIdx+1]
	if oldValue == nil || oldValue.Kind != yaml.ScalarNode {
		return false, nil
	}

	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, scope := range strings.Fields(oldValue.Value) {
		seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: scope})
	}
	if len(seq.Content) == 0 {
		removeMapKeyByIndex(rootMap, oldIdx)
		return writeYAMLNode(configFile, &root)
	}
	rootMap.Content[oldIdx].Value = "scopes"
	rootMap.Content[oldIdx+1] = seq
	return writeYAMLNode(configFile, &root)
}

func findMapKeyIndex(mapNode *yaml.Node, key string) int {
	if mapNode == nil || mapNode.Kind != yaml.MappingNode {
		return -1
	}
	for i := 0; i+1 < len(mapNode.Content); i += 2 {
		if k := mapNode.Content[i]; k != nil && k.Value == key {
			return i
		}
	}
	return -1
}

func removeMapKeyByIndex(mapNode *yaml.Node, keyIdx int) {
	if mapNode == nil || mapNode.Kind != yaml.MappingNode {
		return
	}
	if keyIdx < 0 || keyIdx+1 >= len(mapNode.Content) {
		return
	}
	mapNode.Content = append(mapNode.Content[:keyIdx], mapNode.Content[keyIdx+2:]...)
}

func writeYAMLNode(configFile string, root *yaml.Node) (bool, error) {
	f, err := os.Create(configFile)
	if err != nil {
		return false, err
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return false, err
	}
	if err := enc.Close(); err != nil {
		return false, err
	}
	return true, nil
}
