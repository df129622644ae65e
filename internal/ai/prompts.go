package ai

import "fmt"

func generationPrompt(description string) string {
	return fmt.Sprintf(`Create a Manim animation script based on this description: %q

The script should:
1. Import necessary Manim modules
2. Define a Scene class
3. Implement the construct method with appropriate animations
4. Use best practices for Manim code

VERY IMPORTANT: Return ONLY the raw Python code without any markdown formatting, code blocks, or explanation.
DO NOT include `+"```python or ```"+` markers around the code. Just give me the pure Python code.`, description)
}

func debugPrompt(scriptText, errorText string) string {
	return fmt.Sprintf(`I'm trying to run a Manim animation script, but it's throwing the following error:

%s

Here's the script:

`+"```python\n%s\n```"+`

Please fix this script to resolve the error. Return ONLY the corrected Python code without any markdown formatting, code blocks, or explanation.
DO NOT include `+"```python or ```"+` markers around the code. Just give me the pure Python code.`, errorText, scriptText)
}
