/*
Package script runs application classes on the goja JavaScript engine.

# Classes

A class is a script stored in an archive entry named after it
(com.example.Main lives in com/example/Main.js). It is compiled once into a
*goja.Program whose source name is "<archive location>!/<entry>", so a call
stack can always be traced back to the archive, and from there to the code
source whose permissions apply.

A class body runs inside a wrapper function with two parameters:

	exports  the object the class publishes (exports.main = function (args) {...})
	host     the bindings to the launcher: properties, files, sockets,
	         windows, threads, exit

# Units

Every unit of work gets its own goja runtime; runtimes are never shared
between goroutines. A Unit caches the exports of each class it has
evaluated. Stopping a unit interrupts the VM at its next safe point and
cancels the unit's context so blocking host calls return.

# Security

The package performs no permission checks itself. Every host binding passes
the current script call stack to the Env, which decides.
*/
package script
