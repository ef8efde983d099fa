package domain

// TextFile is a named in-memory text buffer, the unit the editor works on.
// Names are display labels only; two files may share a name.
type TextFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// FileDelta carries the fields of a TextFile an update should overwrite.
// Nil fields are left untouched.
type FileDelta struct {
	Name    *string `json:"name,omitempty"`
	Content *string `json:"content,omitempty"`
}

// NewFileTemplate is the content of a file created with "new file".
const NewFileTemplate = "# new file\n"

// DefaultFileName is used when a file must be exported without a name.
const DefaultFileName = "code.py"

// DefaultFiles returns the two-file seed a fresh (or emptied) collection starts with.
func DefaultFiles() []TextFile {
	return []TextFile{
		{
			Name: "main.py",
			Content: "# Hello\n" +
				"print(\"Hello, Python Studio!\")\n" +
				"\n" +
				"# sample function\n" +
				"def fib(n):\n" +
				"    if n < 2:\n" +
				"        return n\n" +
				"    return fib(n-1) + fib(n-2)\n" +
				"\n" +
				"print('fib(10)=', fib(10))",
		},
		{
			Name: "example_loop.py",
			Content: "# simple loop\n" +
				"for i in range(5):\n" +
				"    print('line', i)",
		},
	}
}

// Examples returns the built-in example catalog offered by "import example".
func Examples() []TextFile {
	return []TextFile{
		{
			Name: "hello_async.py",
			Content: "import asyncio\n" +
				"\n" +
				"async def main():\n" +
				"    print('start')\n" +
				"    await asyncio.sleep(1)\n" +
				"    print('done')\n" +
				"\n" +
				"asyncio.run(main())",
		},
		{
			Name: "calc_primes.py",
			Content: "def primes(n):\n" +
				"    res=[]\n" +
				"    for i in range(2,n):\n" +
				"        for p in range(2,int(i**0.5)+1):\n" +
				"            if i%p==0:\n" +
				"                break\n" +
				"        else:\n" +
				"            res.append(i)\n" +
				"    return res\n" +
				"\n" +
				"print(primes(50))",
		},
	}
}
